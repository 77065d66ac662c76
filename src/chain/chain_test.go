package chain

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/stake-plus/govtally/src/shared/gov"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice, _ = hex.DecodeString("d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d")

func TestStorageKey(t *testing.T) {
	assert.Equal(t,
		"26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9",
		hex.EncodeToString(StorageKey("System", "Account")))
}

func TestStorageKeyUint32(t *testing.T) {
	key := StorageKeyUint32("Referenda", "ReferendumInfoFor", 7)
	require.Len(t, key, 32+16+4)
	assert.Equal(t, StorageKey("Referenda", "ReferendumInfoFor"), key[:32])
	assert.Equal(t, []byte{7, 0, 0, 0}, key[48:])
}

func TestAccountToSS58(t *testing.T) {
	assert.Equal(t, "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY", AccountToSS58(alice, 42))
	assert.NotEqual(t, AccountToSS58(alice, 42), AccountToSS58(alice, 0))
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u128le(v uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// ongoingReferendum encodes an Ongoing ReferendumInfo on track 33 with a lookup proposal.
func ongoingReferendum(submitted uint32) []byte {
	var b []byte
	b = append(b, 0)          // Ongoing
	b = append(b, 33, 0)      // track
	b = append(b, 0x16, 0x0b) // Origins(MediumSpender)
	b = append(b, 2)          // Bounded::Lookup
	for i := 0; i < 32; i++ {
		b = append(b, 0xaa)
	}
	b = append(b, u32le(120)...)
	b = append(b, 1)
	b = append(b, u32le(100)...) // DispatchTime::After(100)
	b = append(b, u32le(submitted)...)
	b = append(b, alice...)
	b = append(b, u128le(0)...)
	b = append(b, 0) // no decision deposit
	b = append(b, 1) // deciding
	b = append(b, u32le(2000)...)
	b = append(b, 0) // not confirming
	b = append(b, u128le(5)...)
	b = append(b, u128le(3)...)
	b = append(b, u128le(9)...)
	b = append(b, 0) // in_queue
	b = append(b, 0) // alarm
	return b
}

func TestDecodeReferendumInfoOngoing(t *testing.T) {
	info, err := DecodeReferendumInfo(ongoingReferendum(1000))
	require.NoError(t, err)

	assert.True(t, info.Ongoing())
	assert.Equal(t, uint16(33), info.Track)
	assert.Equal(t, "MediumSpender", info.Origin)
	assert.Equal(t, "0x"+hex.EncodeToString(bytesOf(0xaa, 32)), info.ProposalHash)
	assert.Equal(t, uint32(1000), info.Submitted)
	assert.Equal(t, alice, info.Proposer)
	require.NotNil(t, info.Deciding)
	assert.Equal(t, uint32(2000), info.Deciding.Since)
	assert.Nil(t, info.Deciding.Confirming)
	assert.Equal(t, int64(5), info.Tally.Ayes.Int64())
	assert.Equal(t, int64(3), info.Tally.Nays.Int64())
	assert.Equal(t, int64(9), info.Tally.Support.Int64())
}

func TestDecodeReferendumInfoInlineRootProposal(t *testing.T) {
	call := []byte{0x00, 0x01, 0x02}
	var b []byte
	b = append(b, 0, 0, 0) // Ongoing, track 0
	b = append(b, 0, 0)    // system Root
	b = append(b, 1, byte(len(call)<<2))
	b = append(b, call...)
	b = append(b, 0)
	b = append(b, u32le(10)...)
	b = append(b, u32le(77)...)
	b = append(b, alice...)
	b = append(b, u128le(0)...)
	b = append(b, 0, 0)

	info, err := DecodeReferendumInfo(b)
	require.NoError(t, err)
	assert.Equal(t, "Root", info.Origin)
	assert.Equal(t, "0x"+hex.EncodeToString(Blake2_256(call)), info.ProposalHash)
	assert.Equal(t, uint32(77), info.Submitted)
	assert.Nil(t, info.Deciding)
	assert.Nil(t, info.Tally.Ayes)
}

func TestDecodeReferendumInfoFinished(t *testing.T) {
	info, err := DecodeReferendumInfo(append([]byte{1}, u32le(500)...))
	require.NoError(t, err)
	assert.Equal(t, "Approved", info.Status)
	assert.False(t, info.Ongoing())

	_, err = DecodeReferendumInfo([]byte{9})
	assert.Error(t, err)
	_, err = DecodeReferendumInfo(nil)
	assert.Error(t, err)
}

func TestDecodeReferendumInfoTruncated(t *testing.T) {
	full := ongoingReferendum(1)
	_, err := DecodeReferendumInfo(full[:40])
	assert.Error(t, err)
}

func bytesOf(v byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestMetadataValidate(t *testing.T) {
	assert.NoError(t, Metadata{Title: "Treasury"}.Validate())
	err := Metadata{Title: "  "}.Validate()
	assert.ErrorIs(t, err, gov.ErrValidation)
}

func TestMetadataAsMap(t *testing.T) {
	m := Metadata{Title: "x", Track: "Root", Onchain: Onchain{BlockNumber: 12, TransactionHash: "0xab"}}
	assert.Equal(t, map[string]string{
		"track":            "Root",
		"block_number":     "12",
		"transaction_hash": "0xab",
	}, m.AsMap())
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "active.json")
	src := NewFileSource(path)
	ctx := context.Background()

	active, err := src.ActiveProposals(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, os.WriteFile(path, []byte(`{"1":{"title":"One"},"2":{"title":"Two","track":"Root"}}`), 0o644))
	active, err = src.ActiveProposals(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Equal(t, "Two", active[2].Title)

	meta, err := src.ProposalDetails(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "One", meta.Title)

	_, err = src.ProposalDetails(ctx, 3)
	assert.ErrorIs(t, err, gov.ErrNotFound)

	require.NoError(t, os.WriteFile(path, []byte(`{"abc":{}}`), 0o644))
	_, err = src.ActiveProposals(ctx, nil)
	assert.Error(t, err)
}

type fakeState struct {
	values map[string][]byte
	err    error
}

func (f *fakeState) GetStorageLatest(key types.StorageKey, target interface{}) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	raw, ok := f.values[hex.EncodeToString(key)]
	if !ok {
		return false, nil
	}
	*target.(*types.StorageDataRaw) = raw
	return true, nil
}

type fakeHead struct{ err error }

func (f fakeHead) GetBlockHashLatest() (types.Hash, error) { return types.Hash{}, f.err }

func newFakeSource(t *testing.T, state *fakeState, posts *PolkassemblyClient) *SubstrateSource {
	t.Helper()
	src := NewSubstrateSource(SubstrateConfig{URL: "ws://test", Network: "westend", Workers: 2}, posts, nil)
	src.dial = func(string) (*rpcConn, error) {
		return &rpcConn{state: state, chain: fakeHead{}}, nil
	}
	return src
}

func referendaState(count uint32, infos map[uint32][]byte) *fakeState {
	values := map[string][]byte{
		hex.EncodeToString(StorageKey("Referenda", "ReferendumCount")): u32le(count),
	}
	for id, raw := range infos {
		values[hex.EncodeToString(StorageKeyUint32("Referenda", "ReferendumInfoFor", id))] = raw
	}
	return &fakeState{values: values}
}

func TestSubstrateSourceActiveProposals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "westend", r.Header.Get("x-network"))
		assert.Equal(t, "referendums_v2", r.URL.Query().Get("proposalType"))
		if r.URL.Query().Get("postId") != "2" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"title":"<b>Fund</b> &amp; grow","content":"<p>Body</p>","hash":"0x01"}`)
	}))
	defer srv.Close()

	state := referendaState(4, map[uint32][]byte{
		0: append([]byte{1}, u32le(5)...), // approved
		1: ongoingReferendum(10),
		2: ongoingReferendum(20),
		// 3 cleared
	})
	src := newFakeSource(t, state, NewPolkassemblyClient(srv.URL, "Westend", nil))

	active, err := src.ActiveProposals(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, "Referendum #1", active[1].Title)
	assert.Equal(t, "Fund & grow", active[2].Title)
	assert.Equal(t, "Body", active[2].Description)
	assert.Equal(t, "0x01", active[2].Onchain.TransactionHash)
	assert.Equal(t, uint32(20), active[2].Onchain.BlockNumber)
	assert.Equal(t, "MediumSpender", active[2].Track)
	assert.Equal(t, AccountToSS58(alice, 42), active[2].Proposer)
}

func TestSubstrateSourceScanWindow(t *testing.T) {
	state := referendaState(10, map[uint32][]byte{
		2: ongoingReferendum(1),
		9: ongoingReferendum(2),
	})
	src := newFakeSource(t, state, nil)
	src.cfg.ScanDepth = 3

	active, err := src.ActiveProposals(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Contains(t, active, uint32(9))
}

func TestSubstrateSourceInspectsTrackedBelowWindow(t *testing.T) {
	state := referendaState(10, map[uint32][]byte{
		1: append([]byte{1}, u32le(5)...), // approved
		2: ongoingReferendum(1),
		9: ongoingReferendum(2),
	})
	src := newFakeSource(t, state, nil)
	src.cfg.ScanDepth = 3

	active, err := src.ActiveProposals(context.Background(), []uint32{2, 1, 2, 8, 42})
	require.NoError(t, err)
	assert.Len(t, active, 2)
	assert.Contains(t, active, uint32(2), "ongoing tracked referendum below the window stays active")
	assert.Contains(t, active, uint32(9))
	assert.NotContains(t, active, uint32(1))
}

func TestScanIDs(t *testing.T) {
	assert.Equal(t, []uint32{7, 8, 9}, scanIDs(10, 3, nil))
	assert.Equal(t, []uint32{0, 1}, scanIDs(2, 200, []uint32{1, 5}))
	assert.Equal(t, []uint32{1, 4, 7, 8, 9}, scanIDs(10, 3, []uint32{4, 1, 8, 4, 12}))
	assert.Empty(t, scanIDs(0, 3, []uint32{0}))
}

func TestSubstrateSourceRPCFailure(t *testing.T) {
	src := newFakeSource(t, &fakeState{err: errors.New("connection reset")}, nil)
	_, err := src.ActiveProposals(context.Background(), nil)
	assert.Error(t, err)
}

func TestSubstrateSourceProposalDetails(t *testing.T) {
	src := newFakeSource(t, referendaState(2, map[uint32][]byte{1: ongoingReferendum(10)}), nil)

	meta, err := src.ProposalDetails(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Referendum #1", meta.Title)

	_, err = src.ProposalDetails(context.Background(), 0)
	assert.ErrorIs(t, err, gov.ErrNotFound)
}

func TestSubstrateSourcePingAndClose(t *testing.T) {
	dials := 0
	src := NewSubstrateSource(SubstrateConfig{}, nil, nil)
	src.dial = func(string) (*rpcConn, error) {
		dials++
		return &rpcConn{state: &fakeState{}, chain: fakeHead{}}, nil
	}
	require.NoError(t, src.Ping(context.Background()))
	require.NoError(t, src.Ping(context.Background()))
	assert.Equal(t, 1, dials)

	require.NoError(t, src.Close())
	require.NoError(t, src.Ping(context.Background()))
	assert.Equal(t, 2, dials)
}

func TestPolkassemblyRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"title":"Retry works"}`)
	}))
	defer srv.Close()

	c := NewPolkassemblyClient(srv.URL, "polkadot", nil)
	c.retryInterval = 5 * time.Millisecond
	post, err := c.OnchainPost(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Retry works", post.Title)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPolkassemblyPermanentFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("postId") == "1" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewPolkassemblyClient(srv.URL, "polkadot", nil)
	c.retryInterval = 5 * time.Millisecond
	_, err := c.OnchainPost(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoPost)
	_, err = c.OnchainPost(context.Background(), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
