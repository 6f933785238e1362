package daemon

import (
	"context"
	"fmt"

	"github.com/modoterra/droidwatch/pkg/transport/uds"
)

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodListDevices, d.handleListDevices)
	d.server.Handle(uds.MethodConnect, d.handleConnect)
	d.server.Handle(uds.MethodDisconnect, d.handleDisconnect)
	d.server.Handle(uds.MethodInstall, d.handleInstall)
	d.server.Handle(uds.MethodLaunch, d.handleLaunch)
	d.server.Handle(uds.MethodBringToFront, d.handleBringToFront)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true}, nil
}

func (d *Daemon) handleListDevices(_ context.Context, _ uds.Message) (any, error) {
	return d.Devices(), nil
}

func (d *Daemon) handleConnect(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.DeviceRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := d.Connect(ctx, req.Serial); err != nil {
		return nil, err
	}
	return uds.OKResponse{OK: true}, nil
}

func (d *Daemon) handleDisconnect(_ context.Context, msg uds.Message) (any, error) {
	var req uds.DeviceRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := d.Disconnect(req.Serial); err != nil {
		return nil, err
	}
	return uds.OKResponse{OK: true}, nil
}

func (d *Daemon) handleInstall(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.InstallRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	return d.Install(ctx, req.Serial, req.APK)
}

func (d *Daemon) handleLaunch(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.LaunchRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	ok, err := d.Launch(ctx, req.Serial, req.Package, req.Activity)
	if err != nil {
		return nil, err
	}
	return uds.OKResponse{OK: ok}, nil
}

func (d *Daemon) handleBringToFront(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.DeviceRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := d.BringToFront(ctx, req.Serial); err != nil {
		return nil, err
	}
	return uds.OKResponse{OK: true}, nil
}
