// Command smartflash flashes ESP8266 firmware images over a serial port.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/readysteadygo2006/smart.js/flasher"
	"github.com/readysteadygo2006/smart.js/flashparams"
	"github.com/readysteadygo2006/smart.js/flashstub"
	"github.com/readysteadygo2006/smart.js/romproto"
	"github.com/readysteadygo2006/smart.js/transport"
)

var (
	portFlag     string
	verboseFlag  bool
	preserveFlag bool
	eraseBugFlag bool
	overrideFlag string
	mergeFlag    bool
	identityFlag string
)

func main() {
	root := &cobra.Command{
		Use:   "smartflash",
		Short: "Flash and probe ESP8266 devices over a serial port",
	}
	root.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "serial port device (required)")
	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")
	root.MarkPersistentFlagRequired("port")

	flashCmd := &cobra.Command{
		Use:   "flash <dir>",
		Short: "Write every 0x<addr>.bin image in <dir> to the device",
		Args:  cobra.ExactArgs(1),
		RunE:  runFlash,
	}
	flashCmd.Flags().BoolVar(&preserveFlag, "preserve-flash-params", true, "read flash params back from existing firmware before erasing")
	flashCmd.Flags().BoolVar(&eraseBugFlag, "erase-bug-workaround", true, "compensate for the ROM's erase-length bug")
	flashCmd.Flags().StringVar(&overrideFlag, "flash-params", "", "force flash params, e.g. \"dio,32m,40m\" or \"0x0240\"")
	flashCmd.Flags().BoolVar(&mergeFlag, "merge-filesystem", false, "overlay the filesystem image instead of replacing it outright")
	flashCmd.Flags().StringVar(&identityFlag, "generate-identity", "", "generate a device identity block for this hostname if none is found")

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Print the MAC address of the device on the port",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}

	readParamsCmd := &cobra.Command{
		Use:   "read-params",
		Short: "Read the flash params byte pair out of the device's existing firmware",
		Args:  cobra.NoArgs,
		RunE:  runReadParams,
	}

	root.AddCommand(flashCmd, probeCmd, readParamsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	if verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func runFlash(cmd *cobra.Command, args []string) error {
	log := newLogger()

	port, err := transport.Open(portFlag)
	if err != nil {
		return err
	}
	defer port.Close()

	opts := []flasher.Option{
		flasher.WithPreserveFlashParams(preserveFlag),
		flasher.WithEraseBugWorkaround(eraseBugFlag),
		flasher.WithLogger(log),
	}
	if overrideFlag != "" {
		params, err := flashparams.Parse(overrideFlag)
		if err != nil {
			return err
		}
		opts = append(opts, flasher.WithOverrideFlashParams(params))
	}
	if mergeFlag {
		opts = append(opts, flasher.WithMergeFlashFilesystem(true))
	}
	if identityFlag != "" {
		opts = append(opts, flasher.WithIdentity(identityFlag))
	}

	events := flasher.NewChannelEvents(8)
	opts = append(opts, flasher.WithEvents(events))

	engine := flasher.New(opts...)
	if err := engine.Load(args[0]); err != nil {
		return err
	}
	engine.SetPort(port)

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("flashing"),
		progressbar.OptionShowCount(),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events.C() {
			if ev.Status != "" {
				fmt.Fprintln(os.Stderr, ev.Status)
				continue
			}
			bar.ChangeMax(ev.Total)
			bar.Set(ev.Written)
		}
	}()

	res, runErr := engine.Run(context.Background())
	events.Close()
	<-done

	if runErr != nil {
		return runErr
	}
	fmt.Println(res.Message)
	return nil
}

func runReadParams(cmd *cobra.Command, args []string) error {
	port, err := transport.Open(portFlag)
	if err != nil {
		return err
	}
	defer port.Close()

	client := romproto.NewClient(port)
	boot := romproto.NewBootController(port, client)
	if err := boot.RebootIntoBootloader(); err != nil {
		return err
	}

	raw, err := flashstub.Read(client, boot, 0, 4)
	if err != nil {
		return err
	}
	if len(raw) < 4 || raw[0] != 0xE9 {
		return fmt.Errorf("existing firmware doesn't have a valid image header")
	}
	params := uint16(raw[2])<<8 | uint16(raw[3])
	fmt.Printf("raw: 0x%04x\n", params)
	if flashparams.Mode(params) == flashparams.DIOMode {
		fmt.Println("mode: dio")
	}
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	port, err := transport.Open(portFlag)
	if err != nil {
		return err
	}
	defer port.Close()

	mac, err := flasher.Probe(port)
	if err != nil {
		return err
	}
	fmt.Println(mac.String())
	return nil
}
