package blocks

import (
	"bytes"
	"io"
	"sort"
	"strconv"

	"github.com/dposnet/dposd/domain/chainconfig"
	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/domain/ruleerrors"
	"github.com/dposnet/dposd/domain/transactions"
	"github.com/dposnet/dposd/util/binaryserializer"
	"github.com/dposnet/dposd/util/keys"
	"github.com/pkg/errors"
)

// BlockVersion is the only block version this node forges and accepts.
const BlockVersion = 0

// Logic builds, serializes and signs blocks.
type Logic struct {
	params   *chainconfig.Params
	registry *transactions.Registry
}

// NewLogic returns a Logic.
func NewLogic(params *chainconfig.Params, registry *transactions.Registry) *Logic {
	return &Logic{params: params, registry: registry}
}

// CalculateReward returns the forging reward of the block at height.
func (l *Logic) CalculateReward(height uint64) int64 {
	if height < l.params.RewardOffset {
		return 0
	}
	return l.params.BlockReward
}

func previousBlockNumber(id string) (uint64, error) {
	if id == "" {
		return 0, nil
	}
	number, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ruleerrors.ErrInvalidPreviousBlock, "Invalid previous block id %s", id)
	}
	return number, nil
}

// Bytes serializes the header of block, with its signature unless
// skipSignature is set.
func (l *Logic) Bytes(block *model.Block, skipSignature bool) ([]byte, error) {
	previous, err := previousBlockNumber(block.PreviousBlockID)
	if err != nil {
		return nil, err
	}
	if len(block.PayloadHash) != model.HashSize {
		return nil, errors.Wrapf(ruleerrors.ErrPayload, "Invalid payload hash length %d", len(block.PayloadHash))
	}
	if len(block.GeneratorPublicKey) != keys.PublicKeySize {
		return nil, errors.Wrapf(ruleerrors.ErrBadSignature, "Invalid generator public key length %d",
			len(block.GeneratorPublicKey))
	}

	w := &bytes.Buffer{}
	steps := []func() error{
		func() error { return binaryserializer.PutUint32(w, block.Version) },
		func() error { return binaryserializer.PutUint32(w, block.Timestamp) },
		func() error { return binaryserializer.PutUint64(w, block.Height) },
		func() error { return binaryserializer.PutUint64(w, previous) },
		func() error { return binaryserializer.PutUint32(w, block.NumberOfTransactions) },
		func() error { return binaryserializer.PutInt64(w, block.TotalAmount) },
		func() error { return binaryserializer.PutInt64(w, block.TotalFee) },
		func() error { return binaryserializer.PutInt64(w, block.Reward) },
		func() error { return binaryserializer.PutUint32(w, block.PayloadLength) },
		func() error { _, err := w.Write(block.PayloadHash); return errors.WithStack(err) },
		func() error { _, err := w.Write(block.GeneratorPublicKey); return errors.WithStack(err) },
	}
	if !skipSignature {
		steps = append(steps, func() error { return binaryserializer.PutVarBytes(w, block.Signature) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// ID derives the id of block from its unsigned header. Signatures are not
// deterministic, so they take no part in it.
func (l *Logic) ID(block *model.Block) (string, error) {
	unsigned, err := l.Bytes(block, true)
	if err != nil {
		return "", err
	}
	return model.IDFromBytes(unsigned), nil
}

// Sign signs block with keyPair as its generator and sets its id.
func (l *Logic) Sign(keyPair *keys.KeyPair, block *model.Block) error {
	block.GeneratorPublicKey = keyPair.PublicKey
	unsigned, err := l.Bytes(block, true)
	if err != nil {
		return err
	}
	block.Signature, err = keyPair.Sign(model.Hash(unsigned))
	if err != nil {
		return err
	}
	block.ID = model.IDFromBytes(unsigned)
	return nil
}

// VerifySignature returns whether the signature of block was made by its
// generator.
func (l *Logic) VerifySignature(block *model.Block) (bool, error) {
	unsigned, err := l.Bytes(block, true)
	if err != nil {
		return false, err
	}
	return keys.Verify(block.GeneratorPublicKey, model.Hash(unsigned), block.Signature), nil
}

// payload is the serialized transaction list of a block.
type payload struct {
	hash        []byte
	length      uint32
	totalAmount int64
	totalFee    int64
}

// computePayload hashes the signable bytes of txs, which keeps the block id
// independent of transaction signatures. The length counts the full form.
func (l *Logic) computePayload(txs []*model.Transaction) (*payload, error) {
	w := &bytes.Buffer{}
	p := &payload{}
	for _, tx := range txs {
		signable, err := l.registry.SignableBytes(tx)
		if err != nil {
			return nil, err
		}
		w.Write(signable)
		serialized, err := l.registry.FullBytes(tx)
		if err != nil {
			return nil, err
		}
		p.length += uint32(len(serialized))
		p.totalAmount += tx.Amount
		p.totalFee += tx.Fee
	}
	hash := model.Hash(w.Bytes())
	p.hash = hash[:]
	return p, nil
}

// sortForBlock orders txs the way forged blocks carry them: by type, then
// by amount, then by id.
func sortForBlock(txs []*model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Type != txs[j].Type {
			return txs[i].Type < txs[j].Type
		}
		if txs[i].Amount != txs[j].Amount {
			return txs[i].Amount < txs[j].Amount
		}
		return txs[i].ID < txs[j].ID
	})
}

// Create forges and signs the block following previous at timestamp. The
// transactions are taken in block order until MaxTxsPerBlock or
// MaxPayloadLength is reached.
func (l *Logic) Create(keyPair *keys.KeyPair, previous *model.Block, timestamp uint32,
	txs []*model.Transaction) (*model.Block, error) {

	sorted := make([]*model.Transaction, len(txs))
	copy(sorted, txs)
	sortForBlock(sorted)

	var included []*model.Transaction
	payloadLength := 0
	for _, tx := range sorted {
		if len(included) >= l.params.MaxTxsPerBlock {
			break
		}
		serialized, err := l.registry.FullBytes(tx)
		if err != nil {
			return nil, err
		}
		if payloadLength+len(serialized) > l.params.MaxPayloadLength {
			break
		}
		payloadLength += len(serialized)
		included = append(included, tx.Clone())
	}

	p, err := l.computePayload(included)
	if err != nil {
		return nil, err
	}
	height := previous.Height + 1
	block := &model.Block{
		Version:              BlockVersion,
		Height:               height,
		PreviousBlockID:      previous.ID,
		Timestamp:            timestamp,
		NumberOfTransactions: uint32(len(included)),
		TotalAmount:          p.totalAmount,
		TotalFee:             p.totalFee,
		Reward:               l.CalculateReward(height),
		PayloadLength:        p.length,
		PayloadHash:          p.hash,
		Transactions:         included,
	}
	err = l.Sign(keyPair, block)
	if err != nil {
		return nil, err
	}
	for _, tx := range block.Transactions {
		tx.BlockID = block.ID
	}
	return block, nil
}

// ObjectNormalize checks the shape of block and of its transactions.
func (l *Logic) ObjectNormalize(block *model.Block) error {
	if len(block.GeneratorPublicKey) != keys.PublicKeySize {
		return errors.Wrapf(ruleerrors.ErrBadSignature, "Invalid generator public key length %d",
			len(block.GeneratorPublicKey))
	}
	if len(block.Signature) != keys.SignatureSize {
		return errors.Wrapf(ruleerrors.ErrBadSignature, "Invalid block signature length %d", len(block.Signature))
	}
	if len(block.PayloadHash) != model.HashSize {
		return errors.Wrapf(ruleerrors.ErrPayload, "Invalid payload hash length %d", len(block.PayloadHash))
	}
	if block.Height == 0 {
		return errors.Wrapf(ruleerrors.ErrInvalidHeight, "Invalid block height 0")
	}
	if int(block.NumberOfTransactions) != len(block.Transactions) {
		return errors.Wrapf(ruleerrors.ErrPayload, "Included transactions do not match block transactions count")
	}
	for _, tx := range block.Transactions {
		err := l.registry.ObjectNormalize(tx)
		if err != nil {
			return err
		}
	}
	return nil
}

// FullBytes serializes block with its transactions. It is the form blocks
// are relayed in.
func (l *Logic) FullBytes(block *model.Block) ([]byte, error) {
	header, err := l.Bytes(block, false)
	if err != nil {
		return nil, err
	}
	w := bytes.NewBuffer(header)
	err = binaryserializer.PutUint32(w, uint32(len(block.Transactions)))
	if err != nil {
		return nil, err
	}
	for _, tx := range block.Transactions {
		serialized, err := l.registry.FullBytes(tx)
		if err != nil {
			return nil, err
		}
		err = binaryserializer.PutVarBytes(w, serialized)
		if err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// FromBytes parses the output of FullBytes and derives the ids of the block
// and of its transactions.
func (l *Logic) FromBytes(data []byte) (*model.Block, error) {
	r := bytes.NewReader(data)
	block, err := l.readBlock(r)
	if err != nil {
		return nil, errors.Wrapf(ruleerrors.ErrPayload, "Malformed block: %s", err)
	}
	if r.Len() != 0 {
		return nil, errors.Wrapf(ruleerrors.ErrPayload, "Malformed block: %d trailing bytes", r.Len())
	}
	block.ID, err = l.ID(block)
	if err != nil {
		return nil, err
	}
	for _, tx := range block.Transactions {
		tx.BlockID = block.ID
	}
	return block, nil
}

func (l *Logic) readBlock(r io.Reader) (*model.Block, error) {
	block := &model.Block{}
	var err error
	if block.Version, err = binaryserializer.Uint32(r); err != nil {
		return nil, err
	}
	if block.Timestamp, err = binaryserializer.Uint32(r); err != nil {
		return nil, err
	}
	if block.Height, err = binaryserializer.Uint64(r); err != nil {
		return nil, err
	}
	previous, err := binaryserializer.Uint64(r)
	if err != nil {
		return nil, err
	}
	if previous != 0 {
		block.PreviousBlockID = strconv.FormatUint(previous, 10)
	}
	if block.NumberOfTransactions, err = binaryserializer.Uint32(r); err != nil {
		return nil, err
	}
	if block.TotalAmount, err = binaryserializer.Int64(r); err != nil {
		return nil, err
	}
	if block.TotalFee, err = binaryserializer.Int64(r); err != nil {
		return nil, err
	}
	if block.Reward, err = binaryserializer.Int64(r); err != nil {
		return nil, err
	}
	if block.PayloadLength, err = binaryserializer.Uint32(r); err != nil {
		return nil, err
	}
	block.PayloadHash = make([]byte, model.HashSize)
	if _, err = io.ReadFull(r, block.PayloadHash); err != nil {
		return nil, errors.WithStack(err)
	}
	block.GeneratorPublicKey = make([]byte, keys.PublicKeySize)
	if _, err = io.ReadFull(r, block.GeneratorPublicKey); err != nil {
		return nil, errors.WithStack(err)
	}
	if block.Signature, err = binaryserializer.VarBytes(r); err != nil {
		return nil, err
	}

	count, err := binaryserializer.Uint32(r)
	if err != nil {
		return nil, err
	}
	if int(count) > l.params.MaxTxsPerBlock {
		return nil, errors.Errorf("block carries %d transactions, more than %d", count, l.params.MaxTxsPerBlock)
	}
	block.Transactions = make([]*model.Transaction, 0, count)
	for i := uint32(0); i < count; i++ {
		serialized, err := binaryserializer.VarBytes(r)
		if err != nil {
			return nil, err
		}
		tx, err := l.registry.FromBytes(serialized)
		if err != nil {
			return nil, err
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}
