package peercontext

import (
	"encoding/hex"

	"github.com/dposnet/dposd/domain"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/infrastructure/network/peer"
	"github.com/pkg/errors"
)

// Context represents the peer API context
type Context struct {
	Domain domain.Domain
}

// NewContext creates a new peer API context
func NewContext(domain domain.Domain) *Context {
	return &Context{Domain: domain}
}

// EncodeBlock returns block serialized with its transactions, hex encoded.
func (c *Context) EncodeBlock(block *model.Block) (string, error) {
	blockBytes, err := c.Domain.Logic().FullBytes(block)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(blockBytes), nil
}

// DecodeBlock parses the output of EncodeBlock.
func (c *Context) DecodeBlock(blockHex string) (*model.Block, error) {
	blockBytes, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "block hex could not be parsed: %s", err)
	}
	block, err := c.Domain.Logic().FromBytes(blockBytes)
	if err != nil {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "block decode failed: %s", err)
	}
	err = c.Domain.Logic().ObjectNormalize(block)
	if err != nil {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "malformed block: %s", err)
	}
	return block, nil
}

// EncodeTransaction returns tx serialized and hex encoded.
func (c *Context) EncodeTransaction(tx *model.Transaction) (string, error) {
	txBytes, err := c.Domain.Registry().FullBytes(tx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(txBytes), nil
}

// DecodeTransaction parses the output of EncodeTransaction.
func (c *Context) DecodeTransaction(txHex string) (*model.Transaction, error) {
	txBytes, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "transaction hex could not be parsed: %s", err)
	}
	tx, err := c.Domain.Registry().FromBytes(txBytes)
	if err != nil {
		return nil, errors.Wrapf(peer.ErrInvalidRequest, "transaction decode failed: %s", err)
	}
	return tx, nil
}
