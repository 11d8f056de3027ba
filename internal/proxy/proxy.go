// Package proxy wires the transport, interceptor, OTA, and node-id
// components together into the running gateway/controller bridge, and
// supervises their lifetimes.
package proxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mysensors/gwproxy/internal/firmware"
	"github.com/mysensors/gwproxy/internal/interceptor"
	"github.com/mysensors/gwproxy/internal/nodeid"
	"github.com/mysensors/gwproxy/internal/ota"
	"github.com/mysensors/gwproxy/internal/protocol"
	"github.com/mysensors/gwproxy/internal/store"
	"github.com/mysensors/gwproxy/internal/transport"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const queueDepth = 4096

// Proxy owns every channel and worker goroutine that makes up the running
// bridge between a gateway endpoint and a controller endpoint.
type Proxy struct {
	Gateway    transport.Transport
	Controller transport.Transport
	Firmware   *firmware.Store
	Hook       store.PersistenceHook
	Log        *zap.Logger

	gwIn, ctrlIn     chan protocol.LineMessage
	gwOut, ctrlOut   chan protocol.LineMessage
	otaIn, nodeReqIn chan protocol.LineMessage
	presentationIn   chan protocol.LineMessage

	frames atomic.Uint64
}

// New allocates the channel topology for a Proxy. Every queue is a large
// buffered channel standing in for the unbounded, single-consumer FIFO
// queues the design calls for: the protocol is low-rate, so a generous
// fixed size never fills under normal operation.
func New(gw, ctrl transport.Transport, fw *firmware.Store, hook store.PersistenceHook, log *zap.Logger) *Proxy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Proxy{
		Gateway:        gw,
		Controller:     ctrl,
		Firmware:       fw,
		Hook:           hook,
		Log:            log,
		gwIn:           make(chan protocol.LineMessage, queueDepth),
		ctrlIn:         make(chan protocol.LineMessage, queueDepth),
		gwOut:          make(chan protocol.LineMessage, queueDepth),
		ctrlOut:        make(chan protocol.LineMessage, queueDepth),
		otaIn:          make(chan protocol.LineMessage, queueDepth),
		nodeReqIn:      make(chan protocol.LineMessage, queueDepth),
		presentationIn: make(chan protocol.LineMessage, queueDepth),
	}
}

// Run starts every worker and blocks until ctx is cancelled or a worker
// reports a fatal error, whichever happens first. The first error wins:
// once any worker returns a non-nil error, every other worker is
// cancelled and Run waits for them to unwind before returning.
func (p *Proxy) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 16)

	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
				cancel()
			}
		}()
	}

	spawn("gateway-reader", func(ctx context.Context) error {
		p.Gateway.ReadLoop(ctx, p.gwIn)
		if ctx.Err() == nil {
			return fmt.Errorf("read loop returned")
		}
		return nil
	})
	spawn("gateway-writer", func(ctx context.Context) error {
		p.Gateway.WriteLoop(ctx, p.gwOut)
		if ctx.Err() == nil {
			return fmt.Errorf("write loop returned")
		}
		return nil
	})
	spawn("controller-reader", func(ctx context.Context) error {
		p.Controller.ReadLoop(ctx, p.ctrlIn)
		if ctx.Err() == nil {
			return fmt.Errorf("read loop returned")
		}
		return nil
	})
	spawn("controller-writer", func(ctx context.Context) error {
		p.Controller.WriteLoop(ctx, p.ctrlOut)
		if ctx.Err() == nil {
			return fmt.Errorf("write loop returned")
		}
		return nil
	})
	spawn("interceptor", func(ctx context.Context) error {
		interceptor.Run(ctx, p.gwIn, interceptor.Queues{
			OTA:           p.otaIn,
			NodeReq:       p.nodeReqIn,
			Presentation:  p.presentationIn,
			ControllerOut: p.ctrlOut,
		}, p.Log)
		return nil
	})
	spawn("controller-forward", p.runControllerForward)
	spawn("ota", p.runOTA)
	spawn("node-id", p.runNodeID)
	spawn("presentation", p.runPresentation)
	spawn("health-summary", p.runHealthSummary)

	wg.Wait()
	close(errCh)

	var err error
	for e := range errCh {
		if err == nil {
			err = e
		}
	}
	return err
}

// runControllerForward relays every frame the controller sends straight
// to the gateway; the controller speaks SET/REQ commands addressed to
// sensors, which only the gateway can deliver.
func (p *Proxy) runControllerForward(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.ctrlIn:
			if !ok {
				return nil
			}
			p.frames.Add(1)
			select {
			case p.gwOut <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (p *Proxy) runOTA(ctx context.Context) error {
	h := ota.NewHandler(p.Firmware, p.Log)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.otaIn:
			if !ok {
				return nil
			}
			reply, action := h.Handle(msg)
			var dest chan protocol.LineMessage
			switch action {
			case ota.ActionReplyGateway:
				dest = p.gwOut
			case ota.ActionForwardController:
				dest = p.ctrlOut
			default:
				continue
			}
			select {
			case dest <- reply:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (p *Proxy) runNodeID(ctx context.Context) error {
	a := nodeid.NewAllocator(p.Hook, p.Log)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.nodeReqIn:
			if !ok {
				return nil
			}
			reply, ok := a.Handle(msg)
			if !ok {
				continue
			}
			select {
			case p.gwOut <- reply:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runPresentation persists each PRESENTATION message's sensor metadata and
// then forwards the message on to the controller unchanged, matching the
// native implementation's own presentation handler.
func (p *Proxy) runPresentation(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-p.presentationIn:
			if !ok {
				return nil
			}
			if err := p.Hook.ObserveSensor(msg.NodeID, msg.ChildSensorID, msg.SubType, msg.Payload); err != nil {
				p.Log.Warn("persisting presentation failed", zap.Error(err))
			}
			select {
			case p.ctrlOut <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// runHealthSummary logs a once-a-minute summary of frame throughput via a
// cron schedule, purely observational.
func (p *Proxy) runHealthSummary(ctx context.Context) error {
	c := cron.New()
	log := p.Log.With(zap.String("component", "health"))
	_, err := c.AddFunc("@every 1m", func() {
		log.Info("link summary", zap.Uint64("frames_forwarded", p.frames.Load()))
	})
	if err != nil {
		return fmt.Errorf("scheduling health summary: %w", err)
	}
	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
	}
	return nil
}
