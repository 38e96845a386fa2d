// Package orchestrator sequences a complete SmartSpin2k flash: port
// selection, chip handshake, stub upload, optional baud escalation, layout
// planning, writing and reset.
//
// A run is strictly sequential and owns its chip session exclusively.
// Callers must not start two runs against the same port at once.
// Cancelling the context stops the run between two states, never inside one,
// and the run returns the context's error rather than a flasherr kind.
// A run cancelled while writing leaves the device in the same undefined state
// as a failed write.
package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartspin2k/ss2k-flasher/internal/chip"
	"github.com/smartspin2k/ss2k-flasher/internal/detect"
	"github.com/smartspin2k/ss2k-flasher/internal/fsm"
	"github.com/smartspin2k/ss2k-flasher/internal/image"
	"github.com/smartspin2k/ss2k-flasher/internal/layout"
)

// State names the last state a run reached.
type State string

const (
	Idle          State = "Idle"
	PortSelected  State = "PortSelected"
	Connected     State = "Connected"
	InfoRead      State = "InfoRead"
	Stubbed       State = "Stubbed"
	BaudProbe     State = "BaudProbe"
	SizeDetected  State = "SizeDetected"
	PlanBuilt     State = "PlanBuilt"
	ParametersSet State = "ParametersSet"
	Written       State = "Written"
	Reset         State = "Reset"
	Done          State = "Done"
)

// Planner builds the write plan once the flash size is known.
// *layout.Planner implements it.
type Planner interface {
	Build(ctx context.Context, info chip.Info, firmware image.Reference, size chip.FlashSize) (*layout.Plan, error)
}

// Orchestrator runs flashes against chips reached through Connector.
type Orchestrator struct {
	Connector chip.Connector
	Ports     detect.Enumerator
	Planner   Planner
	Sink      Sink
	Log       zerolog.Logger
}

// Options configure one flash run.
type Options struct {
	// Port is used verbatim when set, otherwise the only present port is used.
	Port     string
	Firmware image.Reference
	// UploadBaud is the rate writes should run at. Zero or the handshake
	// rate disables baud escalation.
	UploadBaud int
	// Progress, if set, receives write progress of every region.
	Progress chip.ProgressFunc
}

// Result describes how far a run got.
type Result struct {
	ID        string
	State     State
	Port      string
	Info      chip.Info
	FlashSize chip.FlashSize
	Mode      image.FlashMode
	Freq      image.FlashFreq
	// BaudRate is the rate the regions were written at.
	BaudRate int
	// FellBack is set when the upload baud was abandoned for the handshake rate.
	FellBack bool
}

type run struct {
	Result

	opts     Options
	infoOnly bool
	session  chip.Session
	plan     *layout.Plan
	log      zerolog.Logger
}

// Flash runs the complete flash sequence. The returned error is a
// *flasherr.Error whose message is meant to be shown verbatim.
func (o *Orchestrator) Flash(ctx context.Context, opts Options) (Result, error) {
	return o.execute(ctx, &run{opts: opts})
}

// Info connects to the chip, prints its details and flash size, and
// disconnects without writing anything.
func (o *Orchestrator) Info(ctx context.Context, port string) (Result, error) {
	return o.execute(ctx, &run{opts: Options{Port: port}, infoOnly: true})
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (Result, error) {
	r.ID = uuid.NewString()
	r.State = Idle
	r.BaudRate = chip.DefaultBaudRate
	r.log = o.Log.With().Str("run", r.ID).Logger()

	r.log.Debug().Bool("info_only", r.infoOnly).Msg("run started")

	r, err := fsm.Run(ctx, r, o.selectPort, func(r *run) {
		r.log.Debug().Str("state", string(r.State)).Msg("state reached")
	})

	o.cleanup(r)

	if err != nil {
		r.log.Debug().Err(err).Str("state", string(r.State)).Msg("run failed")
	}

	return r.Result, err
}

// cleanup releases everything a run holds. Failures are logged, never returned.
func (o *Orchestrator) cleanup(r *run) {
	if r.plan != nil {
		if err := r.plan.Close(); err != nil {
			r.log.Debug().Err(err).Msg("closing plan")
		}

		r.plan = nil
	}

	o.closeSession(r)
}

func (o *Orchestrator) closeSession(r *run) {
	if r.session == nil {
		return
	}

	if err := r.session.Close(); err != nil {
		r.log.Debug().Err(err).Msg("closing session")
	}

	r.session = nil
}
