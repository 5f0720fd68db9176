package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	historyrpc "sightsync/internal/modules/history/adapter/out/rpc"
	"sightsync/internal/modules/history/domain"
	"sightsync/internal/platform/id"
)

type session struct {
	frames   []domain.RawFrame
	pos      int
	pageSize int
}

type server struct {
	mu       sync.Mutex
	history  []record
	sessions map[string]*session
	ids      id.Generator
	log      hclog.Logger
}

func newServer(log hclog.Logger) (*server, error) {
	history, err := buildHistory(simulatedEvents)
	if err != nil {
		return nil, err
	}
	return &server{history: history, sessions: map[string]*session{}, ids: id.UUID{}, log: log}, nil
}

func (s *server) Identify(_ context.Context, _ *historyrpc.Empty) (*historyrpc.DeviceInfo, error) {
	return &historyrpc.DeviceInfo{Serial: simulatedSerial, Firmware: simulatedFirmware}, nil
}

func (s *server) ReadConfigBlock(_ context.Context, in *historyrpc.ConfigBlockRequest) (*historyrpc.ConfigBlockResponse, error) {
	if in.Block != domain.BlockFactoryMaxBolus {
		return &historyrpc.ConfigBlockResponse{Found: false}, nil
	}
	payload, err := domain.EncodeFactoryMaxBolus(simulatedMaxBolus)
	if err != nil {
		return nil, err
	}
	return &historyrpc.ConfigBlockResponse{Found: true, Payload: payload}, nil
}

func (s *server) OpenHistory(_ context.Context, in *historyrpc.OpenHistoryRequest) (*historyrpc.OpenHistoryResponse, error) {
	direction := domain.Direction(in.Direction)
	if direction != domain.DirectionForward && direction != domain.DirectionBackward {
		return nil, fmt.Errorf("unsupported direction 0x%04X", in.Direction)
	}
	pageSize := int(in.PageSize)
	if pageSize <= 0 {
		pageSize = 16
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sessionID := s.ids.New()
	s.sessions[sessionID] = &session{frames: selectFrames(s.history, in.Offset, direction), pageSize: pageSize}
	s.log.Debug("history opened", "session", sessionID, "offset", in.Offset, "direction", direction.String())
	return &historyrpc.OpenHistoryResponse{SessionID: sessionID}, nil
}

func (s *server) ReadHistory(_ context.Context, in *historyrpc.ReadHistoryRequest) (*historyrpc.ReadHistoryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[in.SessionID]
	if !ok {
		return nil, fmt.Errorf("unknown history session %q", in.SessionID)
	}
	end := sess.pos + sess.pageSize
	if end > len(sess.frames) {
		end = len(sess.frames)
	}
	page := sess.frames[sess.pos:end]
	sess.pos = end
	frames := make([]historyrpc.Frame, 0, len(page))
	for _, f := range page {
		frames = append(frames, historyrpc.Frame{Tag: f.Tag, Payload: f.Payload})
	}
	return &historyrpc.ReadHistoryResponse{Frames: frames, More: sess.pos < len(sess.frames)}, nil
}

func (s *server) CloseHistory(_ context.Context, in *historyrpc.CloseHistoryRequest) (*historyrpc.CloseHistoryResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, in.SessionID)
	return &historyrpc.CloseHistoryResponse{Latest: latestSequence(s.history)}, nil
}

func main() {
	log := hclog.New(&hclog.LoggerOptions{Name: "simulator", Level: hclog.Info, Output: os.Stderr, JSONFormat: true})
	impl, err := newServer(log)
	if err != nil {
		log.Error("build history", "error", err)
		os.Exit(1)
	}
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: historyrpc.HandshakeConfig,
		Plugins:         historyrpc.PluginMap(impl),
		GRPCServer:      plugin.DefaultGRPCServer,
		Logger:          log,
	})
}
