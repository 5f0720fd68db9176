package out

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	historyrpc "sightsync/internal/modules/history/adapter/out/rpc"
	"sightsync/internal/modules/history/domain"
	historyout "sightsync/internal/modules/history/port/out"
	apperrors "sightsync/internal/platform/errors"
)

const (
	defaultStartTimeout = 5 * time.Second
	defaultCallTimeout  = 10 * time.Second
)

// DriverManifest names the driver binary and the digest it must match before launch.
type DriverManifest struct {
	Binary   string
	SHA256   string
	PageSize int
}

func (m DriverManifest) Validate() error {
	if strings.TrimSpace(m.Binary) == "" {
		return fmt.Errorf("%w: driver binary is required", apperrors.ErrInvalidInput)
	}
	if m.SHA256 != "" && len(m.SHA256) != sha256.Size*2 {
		return fmt.Errorf("%w: driver sha256 must be %d hex characters", apperrors.ErrInvalidInput, sha256.Size*2)
	}
	return nil
}

// PluginTransport launches the pump driver as a go-plugin child process. Killing the
// process is the disconnect.
type PluginTransport struct {
	manifest DriverManifest
	log      hclog.Logger
}

func NewPluginTransport(manifest DriverManifest, log hclog.Logger) historyout.Transport {
	if manifest.PageSize <= 0 {
		manifest.PageSize = 64
	}
	if log == nil {
		log = hclog.New(&hclog.LoggerOptions{Output: io.Discard, Level: hclog.NoLevel})
	}
	return &PluginTransport{manifest: manifest, log: log.Named("driver")}
}

func (t *PluginTransport) Connect(ctx context.Context) (historyout.Connection, error) {
	if err := t.manifest.Validate(); err != nil {
		return nil, err
	}
	checksum, err := verifyChecksum(t.manifest.Binary, t.manifest.SHA256)
	if err != nil {
		return nil, err
	}
	startTimeout := defaultStartTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			startTimeout = remaining
		}
	}
	config := &plugin.ClientConfig{
		HandshakeConfig:  historyrpc.HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          historyrpc.PluginMap(nil),
		Cmd:              exec.Command(t.manifest.Binary),
		Managed:          true,
		StartTimeout:     startTimeout,
		Logger:           t.log,
	}
	if checksum != nil {
		config.SecureConfig = &plugin.SecureConfig{Checksum: checksum, Hash: sha256.New()}
	}
	client := plugin.NewClient(config)

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("start driver: %w", err)
	}
	raw, err := rpcClient.Dispense(historyrpc.PluginMapKey)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispense driver: %w", err)
	}
	typed, ok := raw.(historyrpc.PumpDriverClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("driver rpc client type mismatch")
	}
	return &pluginConnection{client: client, rpc: typed, pageSize: t.manifest.PageSize}, nil
}

func verifyChecksum(binary, expected string) ([]byte, error) {
	if expected == "" {
		return nil, nil
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return nil, fmt.Errorf("%w: driver sha256: %v", apperrors.ErrInvalidInput, err)
	}
	f, err := os.Open(binary)
	if err != nil {
		return nil, fmt.Errorf("open driver binary: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash driver binary: %w", err)
	}
	if got := h.Sum(nil); hex.EncodeToString(got) != strings.ToLower(expected) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrChecksumMismatch, binary)
	}
	return want, nil
}

type pluginConnection struct {
	client   *plugin.Client
	rpc      historyrpc.PumpDriverClient
	pageSize int
}

func (c *pluginConnection) Identify(ctx context.Context) (domain.DeviceInfo, error) {
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	info, err := c.rpc.Identify(callCtx)
	if err != nil {
		return domain.DeviceInfo{}, fmt.Errorf("identify: %w", err)
	}
	return domain.DeviceInfo{Serial: info.Serial, Firmware: info.Firmware}, nil
}

func (c *pluginConnection) ReadConfigBlock(ctx context.Context, block uint16) ([]byte, error) {
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	resp, err := c.rpc.ReadConfigBlock(callCtx, &historyrpc.ConfigBlockRequest{Block: block})
	if err != nil {
		return nil, fmt.Errorf("read config block 0x%04X: %w", block, err)
	}
	if !resp.Found {
		return nil, fmt.Errorf("%w: config block 0x%04X", apperrors.ErrNotFound, block)
	}
	return resp.Payload, nil
}

func (c *pluginConnection) OpenHistory(ctx context.Context, plan domain.ReadPlan) (historyout.HistorySession, error) {
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	resp, err := c.rpc.OpenHistory(callCtx, &historyrpc.OpenHistoryRequest{
		Category:  uint16(plan.Category),
		Offset:    plan.Offset,
		Direction: uint16(plan.Direction),
		PageSize:  int32(c.pageSize),
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &pluginHistorySession{rpc: c.rpc, id: resp.SessionID}, nil
}

func (c *pluginConnection) Close() error {
	c.client.Kill()
	return nil
}

type pluginHistorySession struct {
	rpc historyrpc.PumpDriverClient
	id  string
}

func (s *pluginHistorySession) Next(ctx context.Context) ([]domain.RawFrame, bool, error) {
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	resp, err := s.rpc.ReadHistory(callCtx, &historyrpc.ReadHistoryRequest{SessionID: s.id})
	if err != nil {
		return nil, false, fmt.Errorf("read history: %w", err)
	}
	frames := make([]domain.RawFrame, 0, len(resp.Frames))
	for _, f := range resp.Frames {
		frames = append(frames, domain.RawFrame{Tag: f.Tag, Payload: f.Payload})
	}
	return frames, resp.More, nil
}

func (s *pluginHistorySession) Close(ctx context.Context) (uint32, error) {
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()
	resp, err := s.rpc.CloseHistory(callCtx, &historyrpc.CloseHistoryRequest{SessionID: s.id})
	if err != nil {
		return 0, fmt.Errorf("close history: %w", err)
	}
	return resp.Latest, nil
}

func callContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
