package ledger

import (
	"bytes"
	"sort"

	"github.com/dposnet/dposd/infrastructure/db/database"
	"github.com/pkg/errors"
)

var roundVotesBucket = database.MakeBucket([]byte("round-votes"))

func roundVotesKey(round uint64) *database.Key {
	return roundVotesBucket.Key(heightBytes(round))
}

// SaveRoundVotes stores the delegate votes as they were before round was
// tallied.
func (s *Store) SaveRoundVotes(accessor database.DataAccessor, round uint64, votes map[string]int64) error {
	addresses := make([]string, 0, len(votes))
	for address := range votes {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	w := &bytes.Buffer{}
	err := writeElement(w, uint32(len(addresses)))
	if err != nil {
		return err
	}
	for _, address := range addresses {
		err := writeElements(w, address, votes[address])
		if err != nil {
			return err
		}
	}
	return accessor.Put(roundVotesKey(round), w.Bytes())
}

// RoundVotes returns the votes saved by SaveRoundVotes for round.
func (s *Store) RoundVotes(accessor database.DataAccessor, round uint64) (map[string]int64, error) {
	serialized, err := accessor.Get(roundVotesKey(round))
	if err != nil {
		if database.IsNotFoundError(err) {
			return nil, errors.Wrapf(database.ErrNotFound, "no votes saved for round %d", round)
		}
		return nil, err
	}
	r := bytes.NewReader(serialized)
	var count uint32
	err = readElement(r, &count)
	if err != nil {
		return nil, err
	}
	votes := make(map[string]int64, count)
	for i := uint32(0); i < count; i++ {
		var address string
		var vote int64
		err := readElements(r, &address, &vote)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to deserialize votes of round %d", round)
		}
		votes[address] = vote
	}
	return votes, nil
}

// DeleteRoundVotes removes the votes saved for round.
func (s *Store) DeleteRoundVotes(accessor database.DataAccessor, round uint64) error {
	return accessor.Delete(roundVotesKey(round))
}
