package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/litup/indexer/internal/events"
	"github.com/litup/indexer/internal/models"
	"github.com/litup/indexer/internal/store"
	"github.com/litup/indexer/internal/store/memory"
)

var (
	creatorA = common.HexToAddress("0xA")
	buyerB   = common.HexToAddress("0xB")
)

func postCreated(postID int64, price int64, maxSupply int64, ts uint64) *events.PostCreated {
	return &events.PostCreated{
		Meta:         events.Meta{BlockNumber: ts, BlockTimestamp: ts, TxHash: "0xC", LogIndex: 0},
		PostID:       big.NewInt(postID),
		Creator:      creatorA,
		Price:        big.NewInt(price),
		PreviewURI:   "p",
		EncryptedURI: "e",
		MaxSupply:    big.NewInt(maxSupply),
	}
}

func purchased(postID, amount, totalPaid, pricePerUnit int64, ts uint64, txHash string, logIndex uint) *events.Purchased {
	return &events.Purchased{
		Meta:         events.Meta{BlockNumber: ts, BlockTimestamp: ts, TxHash: txHash, LogIndex: logIndex},
		PostID:       big.NewInt(postID),
		Buyer:        buyerB,
		Amount:       big.NewInt(amount),
		TotalPaid:    big.NewInt(totalPaid),
		PricePerUnit: big.NewInt(pricePerUnit),
	}
}

func applyAll(t *testing.T, st store.Store, evs ...events.Event) []Outcome {
	t.Helper()
	p := NewProjector(zap.NewNop())
	outs := make([]Outcome, 0, len(evs))
	for _, ev := range evs {
		out, err := p.Apply(context.Background(), st, ev)
		require.NoError(t, err)
		outs = append(outs, out)
	}
	return outs
}

func loadPost(t *testing.T, st store.Store, id string) *models.Post {
	t.Helper()
	post, err := st.LoadPost(context.Background(), id)
	require.NoError(t, err)
	return post
}

func TestProjector_PostCreated(t *testing.T) {
	st := memory.New()
	outs := applyAll(t, st, postCreated(7, 1000, 0, 100))

	post := loadPost(t, st, "7")
	require.NotNil(t, post)
	assert.Equal(t, "7", post.ID)
	assert.Equal(t, "0x000000000000000000000000000000000000000a", post.Creator)
	assert.Equal(t, "1000", post.Price.String())
	assert.Equal(t, "p", post.PreviewURI)
	assert.Equal(t, "e", post.EncryptedURI)
	assert.Equal(t, "0", post.MaxSupply.String())
	assert.Equal(t, "0", post.Minted.String())
	assert.False(t, post.Hidden)
	assert.Equal(t, uint64(100), post.CreatedAt)

	assert.Equal(t, []Change{{models.EntityPost, "7"}}, outs[0].Changes)
	assert.False(t, outs[0].Skipped)
}

func TestProjector_PurchaseExample(t *testing.T) {
	st := memory.New()
	applyAll(t, st,
		postCreated(7, 1000, 0, 100),
		purchased(7, 3, 3000, 1000, 200, "0xT", 0),
	)

	post := loadPost(t, st, "7")
	assert.Equal(t, "3", post.Minted.String())
	assert.Equal(t, "1000", post.Price.String())
	assert.False(t, post.Hidden)

	purchase, err := st.LoadPurchase(context.Background(), "0xT-0")
	require.NoError(t, err)
	require.NotNil(t, purchase)
	assert.Equal(t, "7", purchase.PostID)
	assert.Equal(t, "0x000000000000000000000000000000000000000b", purchase.Buyer)
	assert.Equal(t, "3", purchase.Amount.String())
	assert.Equal(t, "3000", purchase.TotalPaid.String())
	assert.Equal(t, "1000", purchase.PricePerUnit.String())
	assert.Equal(t, "0xT", purchase.TxHash)
	assert.Equal(t, uint64(200), purchase.Timestamp)
}

func TestProjector_RepeatedPostCreatedOverwrites(t *testing.T) {
	st := memory.New()
	applyAll(t, st,
		postCreated(7, 1000, 5, 100),
		purchased(7, 3, 3000, 1000, 200, "0xT", 0),
		&events.PostHidden{PostID: big.NewInt(7), Hidden: true},
	)

	second := postCreated(7, 2500, 10, 300)
	second.PreviewURI = "p2"
	second.EncryptedURI = "e2"
	applyAll(t, st, second)

	post := loadPost(t, st, "7")
	assert.Equal(t, "2500", post.Price.String())
	assert.Equal(t, "10", post.MaxSupply.String())
	assert.Equal(t, "0", post.Minted.String())
	assert.False(t, post.Hidden)
	assert.Equal(t, "p2", post.PreviewURI)
	assert.Equal(t, "e2", post.EncryptedURI)
	assert.Equal(t, uint64(300), post.CreatedAt)

	// earlier purchases are kept
	purchase, err := st.LoadPurchase(context.Background(), "0xT-0")
	require.NoError(t, err)
	assert.NotNil(t, purchase)
}

func TestProjector_PriceUpdated(t *testing.T) {
	st := memory.New()
	applyAll(t, st,
		postCreated(7, 1000, 0, 100),
		purchased(7, 3, 3000, 1000, 200, "0xT", 0),
	)
	before := loadPost(t, st, "7")

	applyAll(t, st, &events.PriceUpdated{PostID: big.NewInt(7), Price: big.NewInt(500)})

	after := loadPost(t, st, "7")
	assert.Equal(t, "500", after.Price.String())

	after.Price = before.Price
	assert.Equal(t, before, after, "only price may change")

	// the purchase keeps its historical price
	purchase, err := st.LoadPurchase(context.Background(), "0xT-0")
	require.NoError(t, err)
	assert.Equal(t, "1000", purchase.PricePerUnit.String())
}

func TestProjector_PostHiddenToggle(t *testing.T) {
	st := memory.New()
	applyAll(t, st,
		postCreated(7, 1000, 0, 100),
		&events.PostHidden{PostID: big.NewInt(7), Hidden: true},
	)
	assert.True(t, loadPost(t, st, "7").Hidden)

	applyAll(t, st, &events.PostHidden{PostID: big.NewInt(7), Hidden: false})
	assert.False(t, loadPost(t, st, "7").Hidden)

	// repeating the same value is harmless
	applyAll(t, st, &events.PostHidden{PostID: big.NewInt(7), Hidden: false})
	assert.False(t, loadPost(t, st, "7").Hidden)
}

func TestProjector_UnknownPostIsNoop(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
	}{
		{"purchased", purchased(9, 1, 10, 10, 5, "0xT", 0)},
		{"price updated", &events.PriceUpdated{PostID: big.NewInt(9), Price: big.NewInt(1)}},
		{"post hidden", &events.PostHidden{PostID: big.NewInt(9), Hidden: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := memory.New()
			applyAll(t, st, postCreated(7, 1000, 0, 100))
			before := st.Snapshot()

			outs := applyAll(t, st, tt.ev)

			assert.True(t, outs[0].Skipped)
			assert.Empty(t, outs[0].Changes)
			assert.Equal(t, before, st.Snapshot())
		})
	}
}

func TestProjector_SameTransactionPurchases(t *testing.T) {
	st := memory.New()
	applyAll(t, st,
		postCreated(7, 1000, 0, 100),
		purchased(7, 2, 2000, 1000, 200, "0xT", 0),
		purchased(7, 5, 5000, 1000, 200, "0xT", 1),
	)

	snap := st.Snapshot()
	require.Len(t, snap.Purchases, 2)
	assert.Equal(t, "0xT-0", snap.Purchases[0].ID)
	assert.Equal(t, "0xT-1", snap.Purchases[1].ID)
	assert.Equal(t, "7", loadPost(t, st, "7").Minted.String())
}

func TestProjector_MintedIsMonotonicSum(t *testing.T) {
	st := memory.New()
	p := NewProjector(zap.NewNop())
	ctx := context.Background()

	// purchase before creation does not count
	evs := []events.Event{purchased(1, 4, 40, 10, 1, "0x01", 0), postCreated(1, 10, 100, 2)}
	for i := uint(0); i < 20; i++ {
		evs = append(evs, purchased(1, int64(i%4), int64(i%4)*10, 10, 3+uint64(i), "0x02", i))
	}

	last := big.NewInt(0)
	want := big.NewInt(0)
	for _, ev := range evs {
		_, err := p.Apply(ctx, st, ev)
		require.NoError(t, err)

		post := loadPost(t, st, "1")
		if post == nil {
			continue
		}
		if pu, ok := ev.(*events.Purchased); ok {
			want.Add(want, pu.Amount)
		}
		minted := post.Minted.BigInt()
		assert.True(t, minted.Cmp(last) >= 0, "minted must not decrease")
		assert.Equal(t, want.String(), minted.String())
		last = minted
	}
}

func TestProjector_LargeValues(t *testing.T) {
	max256, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	st := memory.New()

	created := postCreated(1, 0, 0, 1)
	created.Price = max256
	applyAll(t, st, created,
		&events.Purchased{PostID: big.NewInt(1), Amount: max256, TotalPaid: max256, PricePerUnit: big.NewInt(1)},
		&events.Purchased{PostID: big.NewInt(1), Amount: max256, TotalPaid: max256, PricePerUnit: big.NewInt(1), Meta: events.Meta{LogIndex: 1}},
	)

	want := new(big.Int).Mul(max256, big.NewInt(2))
	post := loadPost(t, st, "1")
	assert.Equal(t, max256.String(), post.Price.String())
	assert.Equal(t, want.String(), post.Minted.String())
}

func TestProjector_ReplayIsDeterministic(t *testing.T) {
	evs := []events.Event{
		postCreated(1, 100, 0, 10),
		postCreated(2, 200, 5, 11),
		purchased(1, 1, 100, 100, 12, "0xaa", 0),
		purchased(2, 2, 400, 200, 12, "0xaa", 1),
		&events.PriceUpdated{PostID: big.NewInt(1), Price: big.NewInt(150)},
		purchased(1, 3, 450, 150, 13, "0xbb", 0),
		&events.PostHidden{PostID: big.NewInt(2), Hidden: true},
		purchased(3, 1, 1, 1, 14, "0xcc", 0),
	}

	replay := func() []byte {
		st := memory.New()
		applyAll(t, st, evs...)
		b, err := json.Marshal(st.Snapshot())
		require.NoError(t, err)
		return b
	}

	assert.JSONEq(t, string(replay()), string(replay()))
}

func TestProjector_MalformedEvent(t *testing.T) {
	st := memory.New()
	p := NewProjector(zap.NewNop())
	ctx := context.Background()

	_, err := p.Apply(ctx, st, &events.PostCreated{PostID: big.NewInt(1)})
	assert.ErrorIs(t, err, events.ErrMalformed)

	_, err = p.Apply(ctx, st, &events.PriceUpdated{Price: big.NewInt(1)})
	assert.ErrorIs(t, err, events.ErrMalformed)

	assert.Empty(t, st.Snapshot().Posts)
}

type unknownEvent struct{}

func (unknownEvent) Kind() events.Kind     { return "Transfer" }
func (unknownEvent) Metadata() events.Meta { return events.Meta{} }

func TestProjector_UnknownEvent(t *testing.T) {
	_, err := NewProjector(zap.NewNop()).Apply(context.Background(), memory.New(), unknownEvent{})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

// failingStore fails selected writes, including inside transactions.
type failingStore struct {
	store.Store
	failPurchase error
	failPost     error
}

func (f *failingStore) SavePost(ctx context.Context, post *models.Post) error {
	if f.failPost != nil {
		return f.failPost
	}
	return f.Store.SavePost(ctx, post)
}

func (f *failingStore) SavePurchase(ctx context.Context, purchase *models.Purchase) error {
	if f.failPurchase != nil {
		return f.failPurchase
	}
	return f.Store.SavePurchase(ctx, purchase)
}

func (f *failingStore) Atomic(ctx context.Context, fn func(tx store.Store) error) error {
	return f.Store.Atomic(ctx, func(tx store.Store) error {
		return fn(&failingStore{Store: tx, failPurchase: f.failPurchase, failPost: f.failPost})
	})
}

func TestProjector_PurchaseIsAtomic(t *testing.T) {
	mem := memory.New()
	applyAll(t, mem, postCreated(7, 1000, 0, 100))

	unavailable := errors.New("store unavailable")
	st := &failingStore{Store: mem, failPurchase: unavailable}

	_, err := NewProjector(zap.NewNop()).Apply(context.Background(), st, purchased(7, 3, 3000, 1000, 200, "0xT", 0))
	assert.ErrorIs(t, err, unavailable)

	assert.Equal(t, "0", loadPost(t, mem, "7").Minted.String(), "minted must not move without its purchase")
	assert.Empty(t, mem.Snapshot().Purchases)
}

func TestProjector_StoreFailureIsReturned(t *testing.T) {
	mem := memory.New()
	unavailable := errors.New("store unavailable")
	st := &failingStore{Store: mem, failPost: unavailable}

	_, err := NewProjector(zap.NewNop()).Apply(context.Background(), st, postCreated(7, 1000, 0, 100))
	assert.ErrorIs(t, err, unavailable)
	assert.Empty(t, mem.Snapshot().Posts)
}
