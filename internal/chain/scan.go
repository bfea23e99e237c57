package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// IssuedEvent is a decoded CertificateIssued log.
type IssuedEvent struct {
	CertID    common.Hash
	Name      string
	Issuer    common.Address
	Recipient common.Address
	TxHash    common.Hash
	Block     uint64
	LogIndex  uint
}

// RevokedEvent is a decoded CertificateRevoked log.
type RevokedEvent struct {
	CertID   common.Hash
	TxHash   common.Hash
	Block    uint64
	LogIndex uint
}

// LatestBlock returns the node's current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if c.node == nil {
		return 0, ErrUnavailable
	}
	return c.node.BlockNumber(ctx)
}

// FilterIssuedRange decodes CertificateIssued events in [from, to].
// Undecodable logs are skipped.
func (c *Client) FilterIssuedRange(ctx context.Context, from, to uint64) ([]IssuedEvent, error) {
	logs, err := c.filterRange(ctx, EventCertificateIssued, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]IssuedEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		vals, err := c.abi.Unpack(EventCertificateIssued, lg.Data)
		if err != nil {
			c.log.Debug("skipping undecodable CertificateIssued log",
				zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		raw, ok := vals[0].([32]byte)
		if !ok {
			continue
		}
		name, _ := vals[1].(string)
		events = append(events, IssuedEvent{
			CertID:    common.BytesToHash(raw[:]),
			Name:      name,
			Issuer:    common.BytesToAddress(lg.Topics[1].Bytes()),
			Recipient: common.BytesToAddress(lg.Topics[2].Bytes()),
			TxHash:    lg.TxHash,
			Block:     lg.BlockNumber,
			LogIndex:  lg.Index,
		})
	}
	return events, nil
}

// FilterRevokedRange decodes CertificateRevoked events in [from, to].
func (c *Client) FilterRevokedRange(ctx context.Context, from, to uint64) ([]RevokedEvent, error) {
	logs, err := c.filterRange(ctx, EventCertificateRevoked, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]RevokedEvent, 0, len(logs))
	for _, lg := range logs {
		vals, err := c.abi.Unpack(EventCertificateRevoked, lg.Data)
		if err != nil {
			c.log.Debug("skipping undecodable CertificateRevoked log",
				zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		raw, ok := vals[0].([32]byte)
		if !ok {
			continue
		}
		events = append(events, RevokedEvent{
			CertID:   common.BytesToHash(raw[:]),
			TxHash:   lg.TxHash,
			Block:    lg.BlockNumber,
			LogIndex: lg.Index,
		})
	}
	return events, nil
}

func (c *Client) filterRange(ctx context.Context, event string, from, to uint64) ([]types.Log, error) {
	if c.node == nil {
		return nil, ErrUnavailable
	}
	logs, err := c.node.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.addr},
		Topics:    [][]common.Hash{{c.abi.Events[event].ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter %s logs: %w", event, err)
	}
	return logs, nil
}
