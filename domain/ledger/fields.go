package ledger

import (
	"sort"

	"github.com/dposnet/dposd/domain/model"
	"github.com/pkg/errors"
)

// Account field names used in DBOp values.
const (
	FieldPublicKey        = "publicKey"
	FieldBalance          = "balance"
	FieldUBalance         = "u_balance"
	FieldSecondPublicKey  = "secondPublicKey"
	FieldSecondSignature  = "secondSignature"
	FieldUSecondSignature = "u_secondSignature"
	FieldUsername         = "username"
	FieldUUsername        = "u_username"
	FieldIsDelegate       = "isDelegate"
	FieldUIsDelegate      = "u_isDelegate"
	FieldVote             = "vote"
	FieldDelegates        = "delegates"
	FieldUDelegates       = "u_delegates"
	FieldMultisignatures  = "multisignatures"
	FieldUMultisignatures = "u_multisignatures"
	FieldMultiMin         = "multimin"
	FieldUMultiMin        = "u_multimin"
	FieldMultiLifetime    = "multilifetime"
	FieldUMultiLifetime   = "u_multilifetime"
	FieldProducedBlocks   = "producedblocks"
	FieldMissedBlocks     = "missedblocks"
	FieldFees             = "fees"
	FieldRewards          = "rewards"
	FieldVirgin           = "virgin"
)

func int64Field(account *model.Account, field string) (*int64, error) {
	switch field {
	case FieldBalance:
		return &account.Balance, nil
	case FieldUBalance:
		return &account.UBalance, nil
	case FieldVote:
		return &account.Vote, nil
	case FieldProducedBlocks:
		return &account.ProducedBlocks, nil
	case FieldMissedBlocks:
		return &account.MissedBlocks, nil
	case FieldFees:
		return &account.Fees, nil
	case FieldRewards:
		return &account.Rewards, nil
	}
	return nil, errors.Errorf("%s is not a numeric account field", field)
}

func stringsField(account *model.Account, field string) (*[]string, error) {
	switch field {
	case FieldDelegates:
		return &account.Delegates, nil
	case FieldUDelegates:
		return &account.UDelegates, nil
	case FieldMultisignatures:
		return &account.Multisignatures, nil
	case FieldUMultisignatures:
		return &account.UMultisignatures, nil
	}
	return nil, errors.Errorf("%s is not a list account field", field)
}

func boolField(account *model.Account, field string) (*bool, error) {
	switch field {
	case FieldSecondSignature:
		return &account.SecondSignature, nil
	case FieldUSecondSignature:
		return &account.USecondSignature, nil
	case FieldIsDelegate:
		return &account.IsDelegate, nil
	case FieldUIsDelegate:
		return &account.UIsDelegate, nil
	case FieldVirgin:
		return &account.Virgin, nil
	}
	return nil, errors.Errorf("%s is not a flag account field", field)
}

func uint8Field(account *model.Account, field string) (*uint8, error) {
	switch field {
	case FieldMultiMin:
		return &account.MultiMin, nil
	case FieldUMultiMin:
		return &account.UMultiMin, nil
	case FieldMultiLifetime:
		return &account.MultiLifetime, nil
	case FieldUMultiLifetime:
		return &account.UMultiLifetime, nil
	}
	return nil, errors.Errorf("%s is not a small numeric account field", field)
}

func stringField(account *model.Account, field string) (*string, error) {
	switch field {
	case FieldUsername:
		return &account.Username, nil
	case FieldUUsername:
		return &account.UUsername, nil
	}
	return nil, errors.Errorf("%s is not a text account field", field)
}

func bytesField(account *model.Account, field string) (*[]byte, error) {
	switch field {
	case FieldPublicKey:
		return &account.PublicKey, nil
	case FieldSecondPublicKey:
		return &account.SecondPublicKey, nil
	}
	return nil, errors.Errorf("%s is not a binary account field", field)
}

// getField returns a copy of the value of field.
func getField(account *model.Account, field string) (interface{}, error) {
	if ptr, err := int64Field(account, field); err == nil {
		return *ptr, nil
	}
	if ptr, err := stringsField(account, field); err == nil {
		return append([]string(nil), *ptr...), nil
	}
	if ptr, err := boolField(account, field); err == nil {
		return *ptr, nil
	}
	if ptr, err := uint8Field(account, field); err == nil {
		return *ptr, nil
	}
	if ptr, err := stringField(account, field); err == nil {
		return *ptr, nil
	}
	if ptr, err := bytesField(account, field); err == nil {
		return append([]byte(nil), *ptr...), nil
	}
	return nil, errors.Errorf("unknown account field %s", field)
}

// applyValue writes value to field of account.
func applyValue(account *model.Account, field string, value interface{}) error {
	switch value := value.(type) {
	case Arithmetic:
		source, err := int64Field(account, value.Field)
		if err != nil {
			return err
		}
		target, err := int64Field(account, field)
		if err != nil {
			return err
		}
		*target = *source + value.Delta
		return nil
	case ArrayDiff:
		target, err := stringsField(account, field)
		if err != nil {
			return err
		}
		*target = applyArrayDiff(*target, value)
		return nil
	case ColumnRef:
		source, err := getField(account, value.Field)
		if err != nil {
			return err
		}
		return setField(account, field, source)
	default:
		return setField(account, field, value)
	}
}

func setField(account *model.Account, field string, value interface{}) error {
	if ptr, err := int64Field(account, field); err == nil {
		number, ok := toInt64(value)
		if !ok {
			return errors.Errorf("cannot set %s to %v (%T)", field, value, value)
		}
		*ptr = number
		return nil
	}
	if ptr, err := boolField(account, field); err == nil {
		switch value := value.(type) {
		case bool:
			*ptr = value
		case int:
			*ptr = value != 0
		default:
			return errors.Errorf("cannot set %s to %v (%T)", field, value, value)
		}
		return nil
	}
	if ptr, err := uint8Field(account, field); err == nil {
		switch value := value.(type) {
		case uint8:
			*ptr = value
		case int:
			if value < 0 || value > 255 {
				return errors.Errorf("%d is out of range for %s", value, field)
			}
			*ptr = uint8(value)
		default:
			return errors.Errorf("cannot set %s to %v (%T)", field, value, value)
		}
		return nil
	}
	if ptr, err := stringsField(account, field); err == nil {
		list, ok := value.([]string)
		if !ok && value != nil {
			return errors.Errorf("cannot set %s to %v (%T)", field, value, value)
		}
		*ptr = append([]string(nil), list...)
		if len(*ptr) == 0 {
			*ptr = nil
		}
		return nil
	}
	if ptr, err := stringField(account, field); err == nil {
		text, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot set %s to %v (%T)", field, value, value)
		}
		*ptr = text
		return nil
	}
	if ptr, err := bytesField(account, field); err == nil {
		data, ok := value.([]byte)
		if !ok && value != nil {
			return errors.Errorf("cannot set %s to %v (%T)", field, value, value)
		}
		if len(data) == 0 {
			*ptr = nil
		} else {
			*ptr = append([]byte(nil), data...)
		}
		return nil
	}
	return errors.Errorf("unknown account field %s", field)
}

func applyArrayDiff(list []string, diff ArrayDiff) []string {
	removed := make(map[string]struct{}, len(diff.Remove))
	for _, element := range diff.Remove {
		removed[element] = struct{}{}
	}
	result := make([]string, 0, len(list)+len(diff.Add))
	present := make(map[string]struct{}, len(list)+len(diff.Add))
	for _, element := range list {
		if _, ok := removed[element]; ok {
			continue
		}
		result = append(result, element)
		present[element] = struct{}{}
	}
	for _, element := range diff.Add {
		if _, ok := present[element]; ok {
			continue
		}
		result = append(result, element)
		present[element] = struct{}{}
	}
	if len(result) == 0 {
		return nil
	}
	sort.Strings(result)
	return result
}
