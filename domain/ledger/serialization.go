package ledger

import (
	"bytes"
	"io"

	"github.com/dposnet/dposd/domain/model"
	"github.com/dposnet/dposd/util/binaryserializer"
	"github.com/pkg/errors"
)

const rowVersion = 1

func serializeAccount(account *model.Account) ([]byte, error) {
	w := &bytes.Buffer{}
	err := writeElements(w,
		uint8(rowVersion),
		account.Address,
		account.PublicKey,
		account.Balance,
		account.UBalance,
		account.SecondPublicKey,
		account.SecondSignature,
		account.USecondSignature,
		account.Username,
		account.UUsername,
		account.IsDelegate,
		account.UIsDelegate,
		account.Vote,
		account.Delegates,
		account.UDelegates,
		account.Multisignatures,
		account.UMultisignatures,
		account.MultiMin,
		account.UMultiMin,
		account.MultiLifetime,
		account.UMultiLifetime,
		account.ProducedBlocks,
		account.MissedBlocks,
		account.Fees,
		account.Rewards,
		account.Virgin,
	)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func deserializeAccount(serialized []byte) (*model.Account, error) {
	r := bytes.NewReader(serialized)
	var version uint8
	account := &model.Account{}
	err := readElements(r,
		&version,
		&account.Address,
		&account.PublicKey,
		&account.Balance,
		&account.UBalance,
		&account.SecondPublicKey,
		&account.SecondSignature,
		&account.USecondSignature,
		&account.Username,
		&account.UUsername,
		&account.IsDelegate,
		&account.UIsDelegate,
		&account.Vote,
		&account.Delegates,
		&account.UDelegates,
		&account.Multisignatures,
		&account.UMultisignatures,
		&account.MultiMin,
		&account.UMultiMin,
		&account.MultiLifetime,
		&account.UMultiLifetime,
		&account.ProducedBlocks,
		&account.MissedBlocks,
		&account.Fees,
		&account.Rewards,
		&account.Virgin,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to deserialize account")
	}
	if version != rowVersion {
		return nil, errors.Errorf("unknown account row version %d", version)
	}
	return account, nil
}

// serializeBlockRow writes the header of block followed by the ids of its
// transactions in block order.
func serializeBlockRow(block *model.Block) ([]byte, error) {
	w := &bytes.Buffer{}
	err := writeElements(w,
		uint8(rowVersion),
		block.ID,
		block.Version,
		block.Height,
		block.PreviousBlockID,
		block.Timestamp,
		block.NumberOfTransactions,
		block.TotalAmount,
		block.TotalFee,
		block.Reward,
		block.PayloadLength,
		block.PayloadHash,
		block.GeneratorPublicKey,
		block.Signature,
	)
	if err != nil {
		return nil, err
	}
	txIDs := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		txIDs[i] = tx.ID
	}
	err = writeElement(w, txIDs)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func deserializeBlockRow(serialized []byte) (*model.Block, []string, error) {
	r := bytes.NewReader(serialized)
	var version uint8
	block := &model.Block{}
	var txIDs []string
	err := readElements(r,
		&version,
		&block.ID,
		&block.Version,
		&block.Height,
		&block.PreviousBlockID,
		&block.Timestamp,
		&block.NumberOfTransactions,
		&block.TotalAmount,
		&block.TotalFee,
		&block.Reward,
		&block.PayloadLength,
		&block.PayloadHash,
		&block.GeneratorPublicKey,
		&block.Signature,
		&txIDs,
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to deserialize block")
	}
	if version != rowVersion {
		return nil, nil, errors.Errorf("unknown block row version %d", version)
	}
	return block, txIDs, nil
}

func serializeTransactionRow(row *TransactionRow) ([]byte, error) {
	w := &bytes.Buffer{}
	err := writeElements(w, uint8(row.Type), row.SenderAddress, row.Height, row.BlockID, row.Bytes)
	if err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func deserializeTransactionRow(id string, serialized []byte) (*TransactionRow, error) {
	r := bytes.NewReader(serialized)
	row := &TransactionRow{ID: id}
	var txType uint8
	err := readElements(r, &txType, &row.SenderAddress, &row.Height, &row.BlockID, &row.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize transaction %s", id)
	}
	row.Type = model.TransactionType(txType)
	return row, nil
}

func writeElements(w io.Writer, elements ...interface{}) error {
	for _, element := range elements {
		err := writeElement(w, element)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		return binaryserializer.PutUint8(w, e)
	case uint32:
		return binaryserializer.PutUint32(w, e)
	case uint64:
		return binaryserializer.PutUint64(w, e)
	case int64:
		return binaryserializer.PutInt64(w, e)
	case bool:
		if e {
			return binaryserializer.PutUint8(w, 1)
		}
		return binaryserializer.PutUint8(w, 0)
	case string:
		return binaryserializer.PutString(w, e)
	case []byte:
		return binaryserializer.PutVarBytes(w, e)
	case []string:
		err := binaryserializer.PutUint32(w, uint32(len(e)))
		if err != nil {
			return err
		}
		for _, s := range e {
			err := binaryserializer.PutString(w, s)
			if err != nil {
				return err
			}
		}
		return nil
	}
	return errors.Errorf("cannot serialize element of type %T", element)
}

func readElements(r io.Reader, elements ...interface{}) error {
	for _, element := range elements {
		err := readElement(r, element)
		if err != nil {
			return err
		}
	}
	return nil
}

func readElement(r io.Reader, element interface{}) error {
	var err error
	switch e := element.(type) {
	case *uint8:
		*e, err = binaryserializer.Uint8(r)
	case *uint32:
		*e, err = binaryserializer.Uint32(r)
	case *uint64:
		*e, err = binaryserializer.Uint64(r)
	case *int64:
		*e, err = binaryserializer.Int64(r)
	case *bool:
		var flag uint8
		flag, err = binaryserializer.Uint8(r)
		*e = flag != 0
	case *string:
		*e, err = binaryserializer.String(r)
	case *[]byte:
		var data []byte
		data, err = binaryserializer.VarBytes(r)
		if len(data) == 0 {
			data = nil
		}
		*e = data
	case *[]string:
		var count uint32
		count, err = binaryserializer.Uint32(r)
		if err != nil {
			return err
		}
		if count > maxListLength {
			return errors.Errorf("list length %d exceeds %d", count, maxListLength)
		}
		var list []string
		for i := uint32(0); i < count; i++ {
			var s string
			s, err = binaryserializer.String(r)
			if err != nil {
				return err
			}
			list = append(list, s)
		}
		*e = list
	default:
		return errors.Errorf("cannot deserialize element of type %T", element)
	}
	return err
}

const maxListLength = 1 << 16
