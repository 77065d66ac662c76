package chain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/mr-tron/base58"
)

// Referendum status variants as stored in Referenda.ReferendumInfoFor.
const (
	statusOngoing uint8 = iota
	statusApproved
	statusRejected
	statusCancelled
	statusTimedOut
	statusKilled
)

var statusNames = map[uint8]string{
	statusOngoing:   "Ongoing",
	statusApproved:  "Approved",
	statusRejected:  "Rejected",
	statusCancelled: "Cancelled",
	statusTimedOut:  "TimedOut",
	statusKilled:    "Killed",
}

// ReferendumInfo is the decoded subset of a referendum we care about.
type ReferendumInfo struct {
	Status       string
	Track        uint16
	Origin       string
	ProposalHash string
	Submitted    uint32
	Proposer     []byte
	Deciding     *DecidingStatus
	Tally        Tally
}

// Ongoing reports whether the referendum is still being voted on.
func (r *ReferendumInfo) Ongoing() bool { return r.Status == statusNames[statusOngoing] }

// DecidingStatus for ongoing referenda
type DecidingStatus struct {
	Since      uint32
	Confirming *uint32
}

// Tally represents vote counts
type Tally struct {
	Ayes    *big.Int
	Nays    *big.Int
	Support *big.Int
}

// DecodeReferendumInfo decodes a ReferendumInfoFor value. Only the ongoing
// variant carries the full status; finished variants return just the status name.
func DecodeReferendumInfo(data []byte) (*ReferendumInfo, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty referendum data")
	}
	dec := scale.NewDecoder(bytes.NewReader(data))

	variant, err := dec.ReadOneByte()
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	name, ok := statusNames[variant]
	if !ok {
		return nil, fmt.Errorf("unknown referendum status variant: %d", variant)
	}
	info := &ReferendumInfo{Status: name}
	if variant != statusOngoing {
		return info, nil
	}
	if err := decodeOngoing(dec, info); err != nil {
		return nil, err
	}
	return info, nil
}

func decodeOngoing(dec *scale.Decoder, info *ReferendumInfo) error {
	if err := dec.Decode(&info.Track); err != nil {
		return fmt.Errorf("track: %w", err)
	}

	origin, err := decodeOrigin(dec, info.Track)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	info.Origin = origin

	hash, err := decodeBoundedCall(dec)
	if err != nil {
		return fmt.Errorf("proposal: %w", err)
	}
	info.ProposalHash = hash

	// DispatchTime: At(u32) | After(u32)
	if err := skip(dec, 5); err != nil {
		return fmt.Errorf("enactment: %w", err)
	}

	if err := dec.Decode(&info.Submitted); err != nil {
		return fmt.Errorf("submitted: %w", err)
	}

	who := make([]byte, 32)
	if err := dec.Read(who); err != nil {
		return fmt.Errorf("submission deposit: %w", err)
	}
	info.Proposer = who
	if err := skip(dec, 16); err != nil {
		return fmt.Errorf("submission deposit amount: %w", err)
	}

	hasDecisionDeposit, err := readOption(dec)
	if err != nil {
		return fmt.Errorf("decision deposit: %w", err)
	}
	if hasDecisionDeposit {
		if err := skip(dec, 48); err != nil {
			return fmt.Errorf("decision deposit: %w", err)
		}
	}

	deciding, err := readOption(dec)
	if err != nil {
		return fmt.Errorf("deciding: %w", err)
	}
	if deciding {
		info.Deciding = &DecidingStatus{}
		if err := dec.Decode(&info.Deciding.Since); err != nil {
			return fmt.Errorf("deciding since: %w", err)
		}
		confirming, err := readOption(dec)
		if err != nil {
			return fmt.Errorf("confirming: %w", err)
		}
		if confirming {
			var at uint32
			if err := dec.Decode(&at); err != nil {
				return fmt.Errorf("confirming: %w", err)
			}
			info.Deciding.Confirming = &at
		}
	}

	// Older runtimes may end before the tally; the fields we need are already read.
	if info.Tally.Ayes, err = readU128(dec); err != nil {
		info.Tally = Tally{}
		return nil
	}
	if info.Tally.Nays, err = readU128(dec); err != nil {
		return fmt.Errorf("tally nays: %w", err)
	}
	if info.Tally.Support, err = readU128(dec); err != nil {
		return fmt.Errorf("tally support: %w", err)
	}
	return nil
}

// decodeOrigin consumes an OriginCaller. Governance origins map 1:1 onto tracks,
// so anything other than the system origin is named after its track.
func decodeOrigin(dec *scale.Decoder, track uint16) (string, error) {
	caller, err := dec.ReadOneByte()
	if err != nil {
		return "", err
	}
	if caller != 0 {
		if _, err := dec.ReadOneByte(); err != nil {
			return "", err
		}
		return TrackName(track), nil
	}

	raw, err := dec.ReadOneByte()
	if err != nil {
		return "", err
	}
	switch raw {
	case 0:
		return "Root", nil
	case 1:
		if err := skip(dec, 32); err != nil {
			return "", err
		}
		return "Signed", nil
	case 2:
		return "None", nil
	default:
		return "", fmt.Errorf("unknown raw origin %d", raw)
	}
}

// decodeBoundedCall returns the hex hash of a Bounded<Call>.
func decodeBoundedCall(dec *scale.Decoder) (string, error) {
	kind, err := dec.ReadOneByte()
	if err != nil {
		return "", err
	}
	hash := make([]byte, 32)
	switch kind {
	case 0: // Legacy
		if err := dec.Read(hash); err != nil {
			return "", err
		}
	case 1: // Inline
		n, err := dec.DecodeUintCompact()
		if err != nil {
			return "", err
		}
		if !n.IsUint64() || n.Uint64() > 1<<20 {
			return "", fmt.Errorf("inline call too large")
		}
		call := make([]byte, n.Uint64())
		if err := dec.Read(call); err != nil {
			return "", err
		}
		hash = Blake2_256(call)
	case 2: // Lookup
		if err := dec.Read(hash); err != nil {
			return "", err
		}
		if err := skip(dec, 4); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown bounded call kind %d", kind)
	}
	return "0x" + hex.EncodeToString(hash), nil
}

func readOption(dec *scale.Decoder) (bool, error) {
	b, err := dec.ReadOneByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("invalid option byte %d", b)
	}
}

func readU128(dec *scale.Decoder) (*big.Int, error) {
	buf := make([]byte, 16)
	if err := dec.Read(buf); err != nil {
		return nil, err
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return new(big.Int).SetBytes(buf), nil
}

func skip(dec *scale.Decoder, n int) error {
	return dec.Read(make([]byte, n))
}

// TrackName returns the name for a given track ID
func TrackName(trackID uint16) string {
	trackNames := map[uint16]string{
		0:  "Root",
		1:  "WhitelistedCaller",
		2:  "WishForChange",
		10: "StakingAdmin",
		11: "Treasurer",
		12: "LeaseAdmin",
		13: "FellowshipAdmin",
		14: "GeneralAdmin",
		15: "AuctionAdmin",
		20: "ReferendumCanceller",
		21: "ReferendumKiller",
		30: "SmallTipper",
		31: "BigTipper",
		32: "SmallSpender",
		33: "MediumSpender",
		34: "BigSpender",
	}
	if name, ok := trackNames[trackID]; ok {
		return name
	}
	return fmt.Sprintf("Track%d", trackID)
}

// SS58Prefix returns the address format of a known network, or the generic substrate one.
func SS58Prefix(network string) uint16 {
	switch network {
	case "polkadot":
		return 0
	case "kusama":
		return 2
	default:
		return 42
	}
}

// AccountToSS58 encodes a 32-byte account id as an SS58 address.
func AccountToSS58(account []byte, prefix uint16) string {
	var prefixBytes []byte
	if prefix < 64 {
		prefixBytes = []byte{byte(prefix)}
	} else {
		prefixBytes = []byte{
			byte((prefix&0xfc)>>2) | 0x40,
			byte(prefix>>8) | byte((prefix&0x03)<<6),
		}
	}

	checksumInput := append([]byte("SS58PRE"), prefixBytes...)
	checksumInput = append(checksumInput, account...)
	checksum := blake2Sum(64, checksumInput)

	payload := make([]byte, 0, len(prefixBytes)+len(account)+2)
	payload = append(payload, prefixBytes...)
	payload = append(payload, account...)
	payload = append(payload, checksum[:2]...)
	return base58.Encode(payload)
}
