// Package perception samples the kiosk camera and turns face-model output
// into per-tick viewer observations.
//
// The face model and the camera are external collaborators behind the
// Classifier and Camera interfaces. The Adapter loads the model once,
// opens the camera for the duration of Run, and emits at most one
// Observation per tick for the most prominent face in the frame.
package perception

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lannapoly/tiewson-kiosk/internal/personalize"
)

var (
	// ErrModelLoadFailure means the face model never became ready. The
	// kiosk reports it as a persistent degraded mode and does not retry.
	ErrModelLoadFailure = errors.New("face model failed to load")

	// ErrCameraAccessDenied means the camera could not be opened because
	// permission was refused.
	ErrCameraAccessDenied = errors.New("camera access denied")
)

const (
	// GenderThreshold is the probability a gender label must exceed to be
	// reported; below it the observation carries personalize.Unknown.
	GenderThreshold = 0.7

	// DefaultPeriod is the sampling period used while analyzing a viewer.
	DefaultPeriod = 500 * time.Millisecond

	// maxInFlight bounds overlapping detections when the model is slower
	// than the tick period.
	maxInFlight = 3
)

// State is the model lifecycle state.
type State int32

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Face is one detection returned by the classifier.
type Face struct {
	Box               image.Rectangle
	Age               float64
	Gender            string
	GenderProbability float64
}

// Classifier is the black-box face model.
type Classifier interface {
	// Load prepares the model. Called once.
	Load(ctx context.Context) error
	// Detect returns the faces found in img, possibly none.
	Detect(ctx context.Context, img image.Image) ([]Face, error)
}

// Camera opens the kiosk camera.
type Camera interface {
	// Open starts the camera. Implementations return an error wrapping
	// ErrCameraAccessDenied when permission is refused.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera. Close releases the device.
type Stream interface {
	Capture(ctx context.Context) (image.Image, error)
	Close() error
}

// Sample is the raw reading of one detected face.
type Sample struct {
	Age               float64
	Gender            string
	GenderProbability float64
	CapturedAt        time.Time
}

// Observation is what one tick reports to the presence machine.
type Observation struct {
	// Detected is false when the frame held no face.
	Detected bool
	// Gender is Unknown unless the model's probability exceeded
	// GenderThreshold.
	Gender     personalize.Gender
	Age        int
	Confidence float64
	CapturedAt time.Time
	Sample     Sample
}

// Qualifies reports whether the observation is strong enough to build a
// viewer profile from.
func (o Observation) Qualifies() bool {
	return o.Detected && o.Gender != personalize.Unknown && o.Confidence > GenderThreshold
}

// Profile builds the viewer profile carried into personalized mode.
func (o Observation) Profile() personalize.Profile {
	return personalize.Profile{Gender: o.Gender, Age: o.Age, Confidence: o.Confidence}
}

// Observe converts classifier output into an Observation, keeping only the
// most prominent face (largest box, first on ties).
func Observe(faces []Face, capturedAt time.Time) Observation {
	if len(faces) == 0 {
		return Observation{Gender: personalize.Unknown, CapturedAt: capturedAt}
	}
	best := faces[0]
	bestArea := area(best.Box)
	for _, f := range faces[1:] {
		if a := area(f.Box); a > bestArea {
			best, bestArea = f, a
		}
	}

	obs := Observation{
		Detected:   true,
		Gender:     personalize.Unknown,
		Age:        int(math.Round(math.Max(best.Age, 0))),
		Confidence: best.GenderProbability,
		CapturedAt: capturedAt,
		Sample: Sample{
			Age:               best.Age,
			Gender:            best.Gender,
			GenderProbability: best.GenderProbability,
			CapturedAt:        capturedAt,
		},
	}
	if best.GenderProbability > GenderThreshold {
		switch best.Gender {
		case "male":
			obs.Gender = personalize.Male
		case "female":
			obs.Gender = personalize.Female
		}
	}
	return obs
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// Adapter drives the classifier over camera frames.
type Adapter struct {
	classifier Classifier
	camera     Camera
	period     time.Duration

	state    atomic.Int32
	loadOnce sync.Once
	loaded   chan struct{}
	loadErr  error

	// newTicker is replaced in tests.
	newTicker func(time.Duration) (<-chan time.Time, func())
	now       func() time.Time
}

// NewAdapter creates an adapter sampling every period (DefaultPeriod when
// period is not positive).
func NewAdapter(classifier Classifier, camera Camera, period time.Duration) *Adapter {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Adapter{
		classifier: classifier,
		camera:     camera,
		period:     period,
		loaded:     make(chan struct{}),
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		now: time.Now,
	}
}

// State returns the model lifecycle state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// StartLoading begins the one-time model load in the background. Later
// calls are no-ops.
func (a *Adapter) StartLoading(ctx context.Context) {
	a.loadOnce.Do(func() {
		a.state.Store(int32(Loading))
		go func() {
			start := time.Now()
			err := a.classifier.Load(ctx)
			if err != nil {
				a.loadErr = fmt.Errorf("%w: %w", ErrModelLoadFailure, err)
				a.state.Store(int32(Failed))
				log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Face model load failed")
			} else {
				a.state.Store(int32(Ready))
				log.Info().Dur("elapsed", time.Since(start)).Msg("Face model ready")
			}
			close(a.loaded)
		}()
	})
}

// WaitReady starts loading if needed and blocks until the model is ready,
// the load failed or ctx is done.
func (a *Adapter) WaitReady(ctx context.Context) error {
	a.StartLoading(context.WithoutCancel(ctx))
	select {
	case <-a.loaded:
		return a.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run waits for the model, opens the camera and samples until ctx is done,
// calling emit with each tick's observation. emit is never called
// concurrently and never with an observation older than one already
// emitted. The camera stream is closed before Run returns on every path.
//
// Run returns nil when ctx ends, an error wrapping ErrModelLoadFailure or
// ErrCameraAccessDenied when startup fails.
func (a *Adapter) Run(ctx context.Context, emit func(Observation)) error {
	if err := a.WaitReady(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	stream, err := a.camera.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open camera: %w", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to release camera")
		} else {
			log.Debug().Msg("Camera released")
		}
	}()

	log.Info().Dur("period", a.period).Msg("Perception sampling started")

	ticks, stop := a.newTicker(a.period)
	defer stop()

	var (
		wg          sync.WaitGroup
		emitMu      sync.Mutex
		lastEmitted uint64
		seq         uint64
		inFlight    atomic.Int32
	)
	// Ticks still running when ctx ends must finish before the stream closes.
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Perception sampling stopped")
			return nil
		case <-ticks:
		}

		if inFlight.Load() >= maxInFlight {
			log.Debug().Msg("Skipping tick, detections still in flight")
			continue
		}
		seq++
		tickSeq := seq
		inFlight.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer inFlight.Add(-1)

			obs, err := a.sample(ctx, stream)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Uint64("tick", tickSeq).Msg("Detection tick failed")
				}
				return
			}

			emitMu.Lock()
			defer emitMu.Unlock()
			if tickSeq <= lastEmitted || ctx.Err() != nil {
				return
			}
			lastEmitted = tickSeq
			emit(obs)
		}()
	}
}

func (a *Adapter) sample(ctx context.Context, stream Stream) (Observation, error) {
	img, err := stream.Capture(ctx)
	if err != nil {
		return Observation{}, fmt.Errorf("capture frame: %w", err)
	}
	capturedAt := a.now()
	faces, err := a.classifier.Detect(ctx, img)
	if err != nil {
		return Observation{}, fmt.Errorf("detect faces: %w", err)
	}
	return Observe(faces, capturedAt), nil
}
