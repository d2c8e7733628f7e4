// Package velocity indexes a transaction set by user for windowed lookups.
package velocity

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// Index groups an ordered transaction set by user. It is built once per run
// and is read-only afterwards, so concurrent readers need no locking.
type Index struct {
	txs    []domain.Transaction
	users  []string
	byUser map[string][]int
	daily  map[dayKey]*dayTotal
}

type dayKey struct {
	user  string
	year  int
	month time.Month
	day   int
}

type dayTotal struct {
	sum   decimal.Decimal
	count int
}

// NewIndex groups txs by user, keeping each user's positions in input order.
// Callers must supply transactions that are chronological per user.
func NewIndex(txs []domain.Transaction) *Index {
	idx := &Index{
		txs:    txs,
		byUser: make(map[string][]int),
		daily:  make(map[dayKey]*dayTotal),
	}

	for pos := range txs {
		tx := &txs[pos]
		if _, ok := idx.byUser[tx.UserID]; !ok {
			idx.users = append(idx.users, tx.UserID)
		}
		idx.byUser[tx.UserID] = append(idx.byUser[tx.UserID], pos)

		key := keyFor(tx.UserID, tx.Timestamp)
		total, ok := idx.daily[key]
		if !ok {
			total = &dayTotal{}
			idx.daily[key] = total
		}
		total.sum = total.sum.Add(tx.Amount)
		total.count++
	}

	return idx
}

// Len returns the number of indexed transactions.
func (x *Index) Len() int {
	return len(x.txs)
}

// At returns the transaction at position pos of the input sequence.
func (x *Index) At(pos int) *domain.Transaction {
	return &x.txs[pos]
}

// Users returns the distinct users in order of first appearance.
func (x *Index) Users() []string {
	return x.users
}

// Positions returns the input positions of a user's transactions in order.
func (x *Index) Positions(userID string) []int {
	return x.byUser[userID]
}

// Window returns the user's transactions with end-d <= timestamp <= end.
func (x *Index) Window(userID string, end time.Time, d time.Duration) []domain.Transaction {
	lo, hi := x.bounds(userID, end, d)
	if lo >= hi {
		return nil
	}
	positions := x.byUser[userID][lo:hi]
	out := make([]domain.Transaction, len(positions))
	for i, pos := range positions {
		out[i] = x.txs[pos]
	}
	return out
}

// WindowCount is Window without materializing the transactions.
func (x *Index) WindowCount(userID string, end time.Time, d time.Duration) int {
	lo, hi := x.bounds(userID, end, d)
	if lo >= hi {
		return 0
	}
	return hi - lo
}

// Previous returns the user's transaction closest before position pos in the
// input sequence. The second result is false when there is none.
func (x *Index) Previous(userID string, pos int) (domain.Transaction, bool) {
	positions := x.byUser[userID]
	i := sort.SearchInts(positions, pos)
	if i == 0 {
		return domain.Transaction{}, false
	}
	return x.txs[positions[i-1]], true
}

// DailyTotal returns the summed amount and count of the user's transactions
// on the calendar day of t, read in t's own location.
func (x *Index) DailyTotal(userID string, t time.Time) (decimal.Decimal, int) {
	total, ok := x.daily[keyFor(userID, t)]
	if !ok {
		return decimal.Zero, 0
	}
	return total.sum, total.count
}

func (x *Index) bounds(userID string, end time.Time, d time.Duration) (int, int) {
	positions := x.byUser[userID]
	start := end.Add(-d)

	lo := sort.Search(len(positions), func(i int) bool {
		return !x.txs[positions[i]].Timestamp.Before(start)
	})
	hi := sort.Search(len(positions), func(i int) bool {
		return x.txs[positions[i]].Timestamp.After(end)
	})
	return lo, hi
}

func keyFor(userID string, t time.Time) dayKey {
	y, m, d := t.Date()
	return dayKey{user: userID, year: y, month: m, day: d}
}
