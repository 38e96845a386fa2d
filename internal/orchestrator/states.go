package orchestrator

import (
	"context"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/detect"
	"github.com/smartspin2k/ss2k-flasher/internal/flasherr"
	"github.com/smartspin2k/ss2k-flasher/internal/fsm"
)

type state = fsm.State[*run]

func (o *Orchestrator) selectPort(_ context.Context, r *run) (*run, state, error) {
	sel, err := detect.Select(r.opts.Port, o.Ports)
	if err != nil {
		return r, nil, err
	}

	if sel.Auto {
		o.Sink.Printf("Auto-detected serial port: %s\n", sel.Port)
	} else {
		o.Sink.Printf("Using '%s' as serial port.\n", sel.Port)
	}

	r.Port = sel.Port
	r.State = PortSelected
	r.log = r.log.With().Str("port", sel.Port).Logger()

	return r, o.connect, nil
}

func (o *Orchestrator) connect(ctx context.Context, r *run) (*run, state, error) {
	if err := o.dial(ctx, r); err != nil {
		return r, nil, err
	}

	r.State = Connected

	return r, o.readInfo, nil
}

// dial opens a ROM session at the handshake rate.
func (o *Orchestrator) dial(ctx context.Context, r *run) error {
	s, err := o.Connector.Connect(ctx, r.Port, chip.DefaultBaudRate)
	if err != nil {
		return flasherr.Wrap(flasherr.ConnectFailed, err, "Error connecting to ESP32").WithValue(r.Port)
	}

	r.session = s
	r.BaudRate = chip.DefaultBaudRate

	return nil
}

func (o *Orchestrator) readInfo(_ context.Context, r *run) (*run, state, error) {
	info, err := chip.ReadInfo(r.session)
	if err != nil {
		return r, nil, err
	}

	r.Info = info
	r.State = InfoRead

	o.Sink.Println()
	o.Sink.Println("Chip Info:")
	o.Sink.Printf(" - Chip Family: %s\n", info.Family)
	o.Sink.Printf(" - Chip Model: %s\n", info.Model)
	o.Sink.Printf(" - Number of Cores: %d\n", info.Cores)
	o.Sink.Printf(" - Max CPU Frequency: %s\n", info.CPUFrequency)
	o.Sink.Printf(" - Has Bluetooth: %s\n", yesNo(info.HasBluetooth))
	o.Sink.Printf(" - Has Embedded Flash: %s\n", yesNo(info.HasEmbeddedFlash))
	o.Sink.Printf(" - Has Factory-Calibrated ADC: %s\n", yesNo(info.HasCalibratedADC))
	o.Sink.Printf(" - MAC Address: %s\n", info.MAC)

	return r, o.activateStub, nil
}

func (o *Orchestrator) activateStub(ctx context.Context, r *run) (*run, state, error) {
	if err := o.stub(ctx, r); err != nil {
		return r, nil, err
	}

	r.State = Stubbed

	if r.opts.UploadBaud != 0 && r.opts.UploadBaud != chip.DefaultBaudRate {
		return r, o.escalateBaud, nil
	}

	return r, o.detectSize, nil
}

func (o *Orchestrator) stub(ctx context.Context, r *run) error {
	stubbed, err := r.session.ActivateStub(ctx)
	if err != nil {
		return flasherr.Wrap(flasherr.StubActivationFailed, err, "Error putting ESP in stub flash mode")
	}

	r.session = stubbed

	return nil
}

// escalateBaud switches to the upload rate and probes the link with a flash
// size read. A rejected switch or failed probe falls back to the handshake
// rate exactly once.
func (o *Orchestrator) escalateBaud(ctx context.Context, r *run) (*run, state, error) {
	r.State = BaudProbe
	baud := r.opts.UploadBaud

	err := r.session.ChangeBaud(baud)
	if err == nil {
		r.BaudRate = baud

		size, probeErr := chip.DetectFlashSize(r.session)
		if probeErr == nil {
			o.sizeDetected(r, size)

			return r, o.buildPlan, nil
		}

		err = probeErr
	}

	r.log.Warn().Err(err).Int("baud", baud).Msg("upload baud rate unusable, falling back")
	o.Sink.Printf("Chip does not support baud rate %d, changing back to %d\n", baud, chip.DefaultBaudRate)

	r.FellBack = true
	o.closeSession(r)

	if err := o.dial(ctx, r); err != nil {
		return r, nil, err
	}

	if err := o.stub(ctx, r); err != nil {
		return r, nil, err
	}

	r.State = Stubbed

	return r, o.detectSize, nil
}

func (o *Orchestrator) detectSize(_ context.Context, r *run) (*run, state, error) {
	size, err := chip.DetectFlashSize(r.session)
	if err != nil {
		return r, nil, err
	}

	o.sizeDetected(r, size)

	if r.infoOnly {
		return r, nil, nil
	}

	return r, o.buildPlan, nil
}

func (o *Orchestrator) sizeDetected(r *run, size chip.FlashSize) {
	r.FlashSize = size
	r.State = SizeDetected

	o.Sink.Printf(" - Flash Size: %s\n", size)
}

func (o *Orchestrator) buildPlan(ctx context.Context, r *run) (*run, state, error) {
	plan, err := o.Planner.Build(ctx, r.Info, r.opts.Firmware, r.FlashSize)
	if err != nil {
		return r, nil, err
	}

	r.plan = plan
	r.Mode, r.Freq = plan.Mode, plan.Freq
	r.State = PlanBuilt

	o.Sink.Printf(" - Flash Mode: %s\n", plan.Mode)
	o.Sink.Printf(" - Flash Frequency: %s\n", plan.Freq.Hz())

	return r, o.setParameters, nil
}

func (o *Orchestrator) setParameters(_ context.Context, r *run) (*run, state, error) {
	if err := r.session.SetFlashParameters(int(r.FlashSize)); err != nil {
		return r, nil, flasherr.Wrap(flasherr.SetParametersFailed, err, "Error setting flash parameters")
	}

	r.State = ParametersSet

	return r, o.write, nil
}

// write sends every region in plan order. The first failure aborts the rest;
// regions already written stay written.
func (o *Orchestrator) write(_ context.Context, r *run) (*run, state, error) {
	for _, region := range r.plan.Regions {
		o.Sink.Printf("Writing %s (%d bytes) at 0x%08X...\n", region.Name, region.Size, region.Address)

		err := r.session.Write(region.Address, region.Data, chip.WriteOptions{
			Name:     region.Name,
			Size:     region.Size,
			Compress: true,
			Verify:   false,
			Progress: r.opts.Progress,
		})
		if err != nil {
			return r, nil, flasherr.Wrap(flasherr.WriteFailed, err, "Error while writing flash").WithValue(region.Name)
		}

		r.log.Debug().Str("region", region.Name).Int64("size", region.Size).Msg("region written")
	}

	r.State = Written

	return r, o.reset, nil
}

// reset reboots into the new firmware. The flash already succeeded, so a
// failed reset only warns.
func (o *Orchestrator) reset(_ context.Context, r *run) (*run, state, error) {
	o.Sink.Println("Hard Resetting...")

	if err := r.session.HardReset(); err != nil {
		r.log.Warn().Err(err).Msg("hard reset failed")
		o.Sink.Printf("Warning: hard reset failed: %v\n", err)
	}

	r.State = Reset

	o.Sink.Println("Done! Flashing is complete!")
	o.Sink.Println()

	r.State = Done

	return r, nil, nil
}
