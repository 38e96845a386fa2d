// Package layout resolves the five images of a SmartSpin2k flash and places
// them at their fixed ESP32 offsets.
package layout

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
	"github.com/smartspin2k/ss2k-flasher/internal/image"
	"github.com/smartspin2k/ss2k-flasher/internal/protocol"
)

// Default image locations.
const (
	DefaultBootloader = "https://raw.githubusercontent.com/espressif/arduino-esp32/1.0.4/tools/sdk/bin/bootloader_" +
		image.FlashModePlaceholder + "_" + image.FlashFreqPlaceholder + ".bin"
	DefaultPartitions = "https://raw.githubusercontent.com/doudar/OTAUpdates/main/partitions.bin"
	DefaultOTAData    = "https://raw.githubusercontent.com/espressif/arduino-esp32/1.0.4/tools/partitions/boot_app0.bin"
	DefaultFilesystem = "https://raw.githubusercontent.com/doudar/OTAUpdates/main/LittleFS.bin"
)

// Region names.
const (
	Bootloader = "bootloader"
	Partitions = "partitions"
	OTAData    = "otadata"
	Firmware   = "firmware"
	Filesystem = "filesystem"
)

// Sources are the references of every image except the firmware. Bootloader
// may contain the flash mode and frequency placeholders.
type Sources struct {
	Bootloader image.Reference
	Partitions image.Reference
	OTAData    image.Reference
	Filesystem image.Reference
}

// DefaultSources returns the published SmartSpin2k images.
func DefaultSources() Sources {
	return Sources{
		Bootloader: image.Parse(DefaultBootloader),
		Partitions: image.Parse(DefaultPartitions),
		OTAData:    image.Parse(DefaultOTAData),
		Filesystem: image.Parse(DefaultFilesystem),
	}
}

// Region is one image placed at its flash address.
type Region struct {
	Name    string
	Address uint32
	Ref     image.Reference
	Data    io.ReadSeeker
	Size    int64
}

// Plan is a complete, address-ordered write plan.
type Plan struct {
	Mode      image.FlashMode
	Freq      image.FlashFreq
	FlashSize chip.FlashSize
	Regions   []Region

	closers []io.Closer
}

// Close releases files opened for the plan. Caller-provided streams are left open.
func (p *Plan) Close() error {
	var errs []error

	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}

	p.closers = nil

	return errors.Join(errs...)
}

// Planner builds Plans.
type Planner struct {
	Resolver *image.Resolver
	Sources  Sources
	Log      zerolog.Logger
}

// Build resolves firmware and the configured sources into a Plan for a chip
// with size bytes of flash. Either the whole plan is returned or nothing.
func (p *Planner) Build(ctx context.Context, _ chip.Info, firmware image.Reference, size chip.FlashSize) (*Plan, error) {
	plan := &Plan{FlashSize: size}

	fw, err := p.open(ctx, plan, firmware)
	if err != nil {
		return nil, err
	}

	hdr, err := image.ReadHeader(fw)
	if err != nil {
		plan.Close()

		return nil, err
	}

	plan.Mode, plan.Freq = hdr.Mode, hdr.Freq

	if hdr.Freq == image.Freq26M || hdr.Freq == image.Freq20M {
		plan.Close()

		return nil, flasherr.New(flasherr.UnsupportedFrequency,
			"No bootloader available for flash frequency %s", hdr.Freq).WithValue(hdr.Freq)
	}

	sources := []struct {
		name string
		addr uint32
		ref  image.Reference
	}{
		{Bootloader, protocol.BootloaderAddress, image.WithFlashParams(p.Sources.Bootloader, hdr.Mode, hdr.Freq)},
		{Partitions, protocol.PartitionsAddress, p.Sources.Partitions},
		{OTAData, protocol.OTADataAddress, p.Sources.OTAData},
		{Filesystem, protocol.FilesystemAddress, p.Sources.Filesystem},
	}

	fwRegion, err := region(Firmware, protocol.FirmwareAddress, firmware, fw)
	if err != nil {
		plan.Close()

		return nil, err
	}

	regions := map[string]Region{Firmware: fwRegion}

	for _, src := range sources {
		r, err := p.open(ctx, plan, src.ref)
		if err != nil {
			plan.Close()

			return nil, err
		}

		reg, err := region(src.name, src.addr, src.ref, r)
		if err != nil {
			plan.Close()

			return nil, err
		}

		regions[src.name] = reg

		p.Log.Debug().Str("region", src.name).Str("source", src.ref.String()).Int64("size", reg.Size).Msg("image resolved")
	}

	for _, name := range []string{Bootloader, Partitions, OTAData, Firmware, Filesystem} {
		plan.Regions = append(plan.Regions, regions[name])
	}

	if err := plan.check(); err != nil {
		plan.Close()

		return nil, err
	}

	return plan, nil
}

func (p *Planner) open(ctx context.Context, plan *Plan, ref image.Reference) (io.ReadSeeker, error) {
	r, err := p.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	if _, caller := ref.(image.Stream); !caller {
		if c, ok := r.(io.Closer); ok {
			plan.closers = append(plan.closers, c)
		}
	}

	return r, nil
}

func region(name string, addr uint32, ref image.Reference, r io.ReadSeeker) (Region, error) {
	size, err := image.Size(r)
	if err != nil {
		return Region{}, flasherr.Wrap(flasherr.InvalidImage, err, "Error reading %s image '%s'", name, ref).WithValue(ref.String())
	}

	return Region{Name: name, Address: addr, Ref: ref, Data: r, Size: size}, nil
}

// check verifies that no region runs into the next one or past the end of flash.
func (p *Plan) check() error {
	for i, r := range p.Regions {
		end := int64(r.Address) + r.Size

		if i+1 < len(p.Regions) {
			next := p.Regions[i+1]
			if end > int64(next.Address) {
				return flasherr.New(flasherr.InvalidImage,
					"The %s image (%d bytes at 0x%X) overlaps the %s image at 0x%X",
					r.Name, r.Size, r.Address, next.Name, next.Address).WithValue(r.Ref.String())
			}

			continue
		}

		if end > int64(p.FlashSize) {
			return flasherr.New(flasherr.InvalidImage,
				"The %s image (%d bytes at 0x%X) does not fit in %s of flash",
				r.Name, r.Size, r.Address, p.FlashSize).WithValue(r.Ref.String())
		}
	}

	return nil
}
