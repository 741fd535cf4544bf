// Package flasher orchestrates a full ESP8266 flashing run: forcing the
// device into its ROM bootloader, patching and writing one or more
// firmware images, optionally preserving or overriding flash parameters,
// optionally synthesizing a device identity block, and leaving the device
// in the right mode to boot the new firmware.
package flasher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/readysteadygo2006/smart.js/errkind"
	"github.com/readysteadygo2006/smart.js/flashparams"
	"github.com/readysteadygo2006/smart.js/flashstub"
	"github.com/readysteadygo2006/smart.js/identity"
	"github.com/readysteadygo2006/smart.js/imageplan"
	"github.com/readysteadygo2006/smart.js/romproto"
)

// Flash layout offsets a run needs to know about beyond the images it was
// asked to write.
const (
	idBlockOffset  = 0x10000
	spiffsOffset   = 0x6d000
	spiffsBlockLen = 0x10000
)

// writeAttempts is how many attempts a single image gets, rebooting into
// the bootloader between attempts, before a run gives up on it.
const writeAttempts = 3

// Config holds a run's tunables. Build one with New and functional
// Options rather than constructing it directly.
type Config struct {
	// PreserveFlashParams reads flash parameters back from the device's
	// existing firmware before erasing it, so the freshly written image
	// keeps working flash timing/mode settings.
	PreserveFlashParams bool
	// EraseBugWorkaround compensates for the ROM's SPIEraseArea
	// double-counting bug, and tolerates a FLASH_END failure that
	// Espressif's own esptool.py treats as expected fallout of the same
	// bug.
	EraseBugWorkaround bool
	// OverrideFlashParams, when hasOverride is true, replaces whatever
	// flash parameters would otherwise be read or preserved.
	OverrideFlashParams uint16
	hasOverride         bool
	// MergeFlashFilesystem, when set, overlays a user-supplied filesystem
	// image onto the device's existing one instead of replacing it
	// outright. It is a coarse, non-filesystem-aware byte overlay: bytes
	// left as 0xFF in the supplied image are treated as "keep whatever is
	// already on the device" and everything else overwrites it. It is off
	// by default; the original merge strategy required a full in-memory
	// SPIFFS implementation this package does not carry.
	MergeFlashFilesystem bool
	// GenerateIDIfNoneFound synthesizes a device identity block if the
	// existing flash content at the identity offset doesn't already carry
	// one.
	GenerateIDIfNoneFound bool
	// IDHostname is embedded in a freshly generated identity block's ID
	// field.
	IDHostname string

	Logger logrus.FieldLogger
	Events Events
}

// Option configures a Config.
type Option func(*Config)

// WithPreserveFlashParams controls whether flash parameters are read back
// from existing firmware before it's erased. Default true.
func WithPreserveFlashParams(preserve bool) Option {
	return func(c *Config) { c.PreserveFlashParams = preserve }
}

// WithEraseBugWorkaround toggles the ROM erase-length compensation.
// Default true.
func WithEraseBugWorkaround(enabled bool) Option {
	return func(c *Config) { c.EraseBugWorkaround = enabled }
}

// WithOverrideFlashParams forces the flash-params word instead of reading
// or preserving one.
func WithOverrideFlashParams(params uint16) Option {
	return func(c *Config) {
		c.OverrideFlashParams = params
		c.hasOverride = true
	}
}

// WithMergeFlashFilesystem enables the best-effort filesystem overlay.
// Default false.
func WithMergeFlashFilesystem(enabled bool) Option {
	return func(c *Config) { c.MergeFlashFilesystem = enabled }
}

// WithIdentity enables identity-block synthesis and sets the hostname
// baked into it.
func WithIdentity(hostname string) Option {
	return func(c *Config) {
		c.GenerateIDIfNoneFound = true
		c.IDHostname = hostname
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithEvents overrides the default no-op Events sink.
func WithEvents(events Events) Option {
	return func(c *Config) { c.Events = events }
}

func defaultConfig() Config {
	return Config{
		PreserveFlashParams: true,
		EraseBugWorkaround:  true,
		Logger:              logrus.StandardLogger(),
		Events:              NopEvents{},
	}
}

// Engine drives one device over its lifetime: load one or more images,
// point it at a port, and run the flash. It serializes on an internal
// mutex so Load/SetPort/Run calls from different goroutines can't
// interleave into a corrupted session.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	images map[uint32][]byte

	port   romproto.Port
	client *romproto.Client
	boot   *romproto.BootController
}

// New builds an Engine with the given options layered on sensible
// defaults.
func New(opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{cfg: cfg, images: map[uint32][]byte{}}
}

// Load reads every "0x<addr>.bin" file in dir and replaces this Engine's
// pending image set with them, keyed by the flash address encoded in each
// file's name.
func (e *Engine) Load(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(dir, "0x*.bin"))
	if err != nil {
		return errkind.New(errkind.ImageLoad, "flasher.Load", err)
	}
	if len(matches) == 0 {
		return errkind.New(errkind.ImageLoad, "flasher.Load", errors.Errorf("no files to flash in %s", dir))
	}

	images := make(map[uint32][]byte, len(matches))
	for _, path := range matches {
		base := strings.TrimSuffix(filepath.Base(path), ".bin")
		addr, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(base), "0x"), 16, 32)
		if err != nil {
			return errkind.New(errkind.ImageLoad, "flasher.Load", errors.Wrapf(err, "%s is not a valid address", base))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return errkind.New(errkind.ImageLoad, "flasher.Load", errors.Wrapf(err, "failed to open %s", path))
		}
		images[uint32(addr)] = data
	}

	e.images = images
	return nil
}

// SetPort points the Engine at an already-open port. It replaces any
// previously set port and its derived protocol client.
func (e *Engine) SetPort(port romproto.Port) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.port = port
	e.client = romproto.NewClient(port)
	e.boot = romproto.NewBootController(port, e.client)
}

// totalBlocks sums the WriteBlockSize block counts of every pending image.
func (e *Engine) totalBlocks() int {
	total := 0
	for _, data := range e.images {
		blocks := len(data) / imageplan.WriteBlockSize
		if len(data)%imageplan.WriteBlockSize != 0 {
			blocks++
		}
		total += blocks
	}
	return total
}

// Run drives the loaded images onto the device pointed at by SetPort. ctx
// is checked before each image is written, not within an image's write
// attempts or retries, since the underlying serial reads aren't
// context-aware. On failure the returned Result's Message is the error's
// text.
func (e *Engine) Run(ctx context.Context) (res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if err != nil {
			res.Message = err.Error()
		}
	}()

	if e.client == nil || e.boot == nil {
		return Result{}, errkind.New(errkind.WiringOrPort, "flasher.Run", errors.New("no port set"))
	}
	// runID ties every log line from this Run to one another without
	// exposing any on-flash state; it is never written to the device.
	log := e.cfg.Logger.WithField("run_id", uuid.NewString())

	e.cfg.Events.OnStatus("entering bootloader")
	if err := e.boot.RebootIntoBootloader(); err != nil {
		return Result{}, errkind.New(errkind.WiringOrPort, "flasher.Run",
			errors.Wrap(err, "failed to talk to bootloader; check wiring"))
	}

	flashParams, hasFlashParams, err := e.resolveFlashParams(log)
	if err != nil {
		return Result{}, err
	}

	if img, ok := e.images[0]; ok && len(img) >= 4 && img[0] == 0xE9 {
		if hasFlashParams {
			img[2] = byte(flashParams >> 8)
			img[3] = byte(flashParams)
			log.Debugf("adjusted flash params in image at 0x0000 to 0x%02x%02x", img[2], img[3])
		}
		flashParams = uint16(img[2])<<8 | uint16(img[3])
		hasFlashParams = true
	}

	if e.cfg.MergeFlashFilesystem {
		if err := e.mergeFlashFilesystem(log); err != nil {
			return Result{}, errkind.New(errkind.ImageLoad, "flasher.Run", errors.Wrap(err, "failed to merge flash filesystem"))
		}
	}

	if e.cfg.GenerateIDIfNoneFound {
		if err := e.ensureIdentity(log); err != nil {
			return Result{}, errkind.New(errkind.ImageLoad, "flasher.Run", errors.Wrap(err, "failed to check for existing identity"))
		}
	}

	total := e.totalBlocks()
	written := 0

	for _, addr := range e.sortedAddrs() {
		select {
		case <-ctx.Done():
			return Result{WrittenBlocks: written}, errkind.New(errkind.Aborted, "flasher.Run", ctx.Err())
		default:
		}

		data := e.images[addr]
		writtenBeforeImage := written
		var writeErr error
		for attempt := writeAttempts; attempt > 0; attempt-- {
			e.cfg.Events.OnStatus(fmt.Sprintf("erasing flash at 0x%x", addr))
			writeErr = imageplan.WriteImage(e.client, addr, data, e.cfg.EraseBugWorkaround, func(w, t int) {
				written = writtenBeforeImage + w
				e.cfg.Events.OnProgress(written, total)
			})
			if writeErr == nil {
				break
			}
			log.Warnf("failed to write image at 0x%x, %d attempts left: %v", addr, attempt-1, writeErr)
			written = writtenBeforeImage
			e.cfg.Events.OnProgress(written, total)
			if attempt > 1 {
				if err := e.boot.RebootIntoBootloader(); err != nil {
					break
				}
			}
		}
		if writeErr != nil {
			return Result{WrittenBlocks: written}, errkind.New(errkind.WriteRetryExhausted, "flasher.Run", errors.Wrapf(writeErr, "failed to flash image at 0x%x", addr))
		}
	}

	if hasFlashParams && flashparams.Mode(flashParams) == flashparams.DIOMode {
		// The ROM leaves flash read-only after flashing in DIO mode
		// unless it is rebooted straight into firmware.
		e.boot.RebootIntoFirmware()
	} else if err := e.client.FlashEnd(true); err != nil {
		if !e.cfg.EraseBugWorkaround {
			return Result{WrittenBlocks: written}, errkind.New(errkind.ProtocolFraming, "flasher.Run",
				errors.Wrap(err, "failed to leave flashing mode; flashing likely succeeded but you must reboot the device manually"))
		}
		log.Debugf("ignoring flash-end error under the erase-bug workaround: %v", err)
	}

	return Result{Message: "All done!", Success: true, WrittenBlocks: written}, nil
}

// resolveFlashParams determines the flash-params word to apply, per the
// configured precedence: an explicit override wins, otherwise the
// existing firmware's params are preserved when asked to, otherwise none
// is applied yet (a boot image at address 0 may still supply one).
func (e *Engine) resolveFlashParams(log logrus.FieldLogger) (uint16, bool, error) {
	if e.cfg.hasOverride {
		return e.cfg.OverrideFlashParams, true, nil
	}
	if !e.cfg.PreserveFlashParams {
		return 0, false, nil
	}

	raw, err := flashstub.Read(e.client, e.boot, 0, 4)
	if err != nil {
		return 0, false, errkind.New(errkind.ReadFlashParams, "flasher.resolveFlashParams", err)
	}
	if len(raw) < 4 || raw[0] != 0xE9 {
		return 0, false, errkind.New(errkind.ReadFlashParams, "flasher.resolveFlashParams", errors.New("existing firmware doesn't have a valid image header"))
	}
	log.Debugf("current flash params bytes: %02x%02x", raw[2], raw[3])
	return uint16(raw[2])<<8 | uint16(raw[3]), true, nil
}

// ensureIdentity reads the identity block already on flash and, if it
// isn't a well-formed one, stages a freshly generated block for writing.
func (e *Engine) ensureIdentity(log logrus.FieldLogger) error {
	raw, err := flashstub.Read(e.client, e.boot, idBlockOffset, identity.BlockSize)
	if err != nil {
		return err
	}
	if identity.Find(raw) {
		log.Debug("existing identity block found, leaving it in place")
		return nil
	}
	log.Debug("no identity block found, generating one")
	block, err := identity.Generate(e.cfg.IDHostname)
	if err != nil {
		return err
	}
	e.images[idBlockOffset] = block
	return nil
}

// mergeFlashFilesystem overlays a pending filesystem image over whatever
// is already on the device: bytes left as 0xFF in the pending image keep
// the device's existing byte, everything else replaces it.
func (e *Engine) mergeFlashFilesystem(log logrus.FieldLogger) error {
	pending, ok := e.images[spiffsOffset]
	if !ok {
		return nil
	}
	log.Warn("filesystem merge is a byte overlay and has not been validated end-to-end")
	existing, err := flashstub.Read(e.client, e.boot, spiffsOffset, spiffsBlockLen)
	if err != nil {
		return err
	}
	merged := make([]byte, len(existing))
	copy(merged, existing)
	for i := 0; i < len(pending) && i < len(merged); i++ {
		if pending[i] != 0xFF {
			merged[i] = pending[i]
		}
	}
	log.Debug("merged flash filesystem overlay")
	e.images[spiffsOffset] = merged
	return nil
}

func (e *Engine) sortedAddrs() []uint32 {
	addrs := make([]uint32, 0, len(e.images))
	for addr := range e.images {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}
