package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"
	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/stake-plus/govtally/src/shared/gov"
	"go.uber.org/zap"
)

const (
	defaultScanDepth = 200
	defaultWorkers   = 8
)

// SubstrateConfig configures the RPC-backed source.
type SubstrateConfig struct {
	URL     string
	Network string
	// ScanDepth bounds how many of the most recent referendum indexes are
	// scanned for new proposals. Tracked ids below the window are always inspected.
	ScanDepth int
	Workers   int
}

type storageReader interface {
	GetStorageLatest(key types.StorageKey, target interface{}) (bool, error)
}

type headReader interface {
	GetBlockHashLatest() (types.Hash, error)
}

type rpcConn struct {
	state storageReader
	chain headReader
}

type postFetcher interface {
	OnchainPost(ctx context.Context, id uint32) (Post, error)
}

// SubstrateSource reads ongoing referenda from the Referenda pallet and
// decorates them with Polkassembly titles.
type SubstrateSource struct {
	cfg    SubstrateConfig
	prefix uint16
	posts  postFetcher
	dial   func(url string) (*rpcConn, error)
	log    *zap.Logger

	mu   sync.Mutex
	conn *rpcConn
}

// NewSubstrateSource creates a source that connects lazily on first use.
// posts may be nil, in which case proposals get a generated title.
func NewSubstrateSource(cfg SubstrateConfig, posts *PolkassemblyClient, log *zap.Logger) *SubstrateSource {
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = defaultScanDepth
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &SubstrateSource{
		cfg:    cfg,
		prefix: SS58Prefix(cfg.Network),
		dial:   dialSubstrate,
		log:    log,
	}
	if posts != nil {
		s.posts = posts
	}
	return s
}

func dialSubstrate(url string) (*rpcConn, error) {
	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	return &rpcConn{state: api.RPC.State, chain: api.RPC.Chain}, nil
}

func (s *SubstrateSource) connection() (*rpcConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return conn, nil
}

// Close drops the connection; the next call redials.
func (s *SubstrateSource) Close() error {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	return nil
}

// Ping checks the node answers a head query.
func (s *SubstrateSource) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := s.connection()
	if err != nil {
		return err
	}
	if _, err := conn.chain.GetBlockHashLatest(); err != nil {
		return fmt.Errorf("latest block hash: %w", err)
	}
	return nil
}

// ActiveProposals returns every ongoing referendum in the scan window plus any
// tracked id below it. Any RPC failure fails the whole call so a partial view
// is never mistaken for retirement.
func (s *SubstrateSource) ActiveProposals(ctx context.Context, tracked []uint32) (map[uint32]Metadata, error) {
	conn, err := s.connection()
	if err != nil {
		return nil, err
	}
	count, err := s.referendumCount(conn)
	if err != nil {
		return nil, err
	}
	ids := scanIDs(count, uint32(s.cfg.ScanDepth), tracked)

	pool := pond.NewPool(s.cfg.Workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	var (
		mu     sync.Mutex
		active = make(map[uint32]Metadata)
		tasks  = make([]pond.Task, 0, len(ids))
	)
	for _, id := range ids {
		id := id
		tasks = append(tasks, pool.SubmitErr(func() error {
			info, found, err := s.referendum(ctx, conn, id)
			if err != nil {
				return fmt.Errorf("referendum %d: %w", id, err)
			}
			if !found || !info.Ongoing() {
				return nil
			}
			meta := s.describe(ctx, id, info)
			mu.Lock()
			active[id] = meta
			mu.Unlock()
			return nil
		}))
	}

	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			return nil, fmt.Errorf("fetch referenda: %w", err)
		}
	}

	s.log.Debug("active referenda fetched",
		zap.Uint32("count", count), zap.Int("inspected", len(ids)), zap.Int("active", len(active)))
	return active, nil
}

// scanIDs lists the last depth indexes below count, preceded by every tracked
// index under that window. Tracked ids at or past count do not exist yet.
func scanIDs(count, depth uint32, tracked []uint32) []uint32 {
	start := uint32(0)
	if count > depth {
		start = count - depth
	}
	seen := make(map[uint32]struct{}, len(tracked))
	var ids []uint32
	for _, id := range tracked {
		if id >= start {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for id := start; id < count; id++ {
		ids = append(ids, id)
	}
	return ids
}

// ProposalDetails returns metadata for one referendum, ongoing or not.
func (s *SubstrateSource) ProposalDetails(ctx context.Context, id uint32) (Metadata, error) {
	conn, err := s.connection()
	if err != nil {
		return Metadata{}, err
	}
	info, found, err := s.referendum(ctx, conn, id)
	if err != nil {
		return Metadata{}, fmt.Errorf("referendum %d: %w", id, err)
	}
	if !found {
		return Metadata{}, fmt.Errorf("referendum %d: %w", id, gov.ErrNotFound)
	}
	return s.describe(ctx, id, info), nil
}

func (s *SubstrateSource) referendumCount(conn *rpcConn) (uint32, error) {
	var raw types.StorageDataRaw
	ok, err := conn.state.GetStorageLatest(types.NewStorageKey(StorageKey("Referenda", "ReferendumCount")), &raw)
	if err != nil {
		return 0, fmt.Errorf("referendum count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("referendum count: short value (%d bytes)", len(raw))
	}
	return binary.LittleEndian.Uint32(raw[:4]), nil
}

func (s *SubstrateSource) referendum(ctx context.Context, conn *rpcConn, id uint32) (*ReferendumInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw types.StorageDataRaw
	ok, err := conn.state.GetStorageLatest(types.NewStorageKey(StorageKeyUint32("Referenda", "ReferendumInfoFor", id)), &raw)
	if err != nil {
		return nil, false, err
	}
	if !ok || len(raw) == 0 {
		return nil, false, nil
	}

	info, err := DecodeReferendumInfo(raw)
	if err != nil {
		// An ongoing referendum we cannot fully decode is still ongoing.
		if raw[0] == statusOngoing {
			s.log.Warn("partial decode of ongoing referendum", zap.Uint32("proposal_id", id), zap.Error(err))
			return &ReferendumInfo{Status: statusNames[statusOngoing]}, true, nil
		}
		return nil, false, err
	}
	return info, true, nil
}

func (s *SubstrateSource) describe(ctx context.Context, id uint32, info *ReferendumInfo) Metadata {
	meta := Metadata{
		Origin: info.Origin,
		Onchain: Onchain{
			BlockNumber:  info.Submitted,
			ProposalHash: info.ProposalHash,
		},
	}
	if info.Origin != "" {
		meta.Track = TrackName(info.Track)
	}
	if len(info.Proposer) == 32 {
		meta.Proposer = AccountToSS58(info.Proposer, s.prefix)
	}

	if s.posts == nil {
		meta.Title = fallbackTitle(id)
		return meta
	}
	post, err := s.posts.OnchainPost(ctx, id)
	switch {
	case err == nil:
		meta.Title = post.Title
		meta.Description = post.Description
		meta.Onchain.TransactionHash = post.Hash
		if meta.Title == "" {
			meta.Title = fallbackTitle(id)
		}
	case errors.Is(err, ErrNoPost):
		meta.Title = fallbackTitle(id)
	default:
		// Left untitled; the proposal stays active but is not discovered until a title arrives.
		s.log.Warn("polkassembly lookup failed", zap.Uint32("proposal_id", id), zap.Error(err))
	}
	return meta
}

func fallbackTitle(id uint32) string {
	return fmt.Sprintf("Referendum #%d", id)
}
