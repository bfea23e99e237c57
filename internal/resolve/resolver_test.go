package resolve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type fakeStore struct {
	byToken     map[string]*models.Certificate
	byChainID   map[string]*models.Certificate
	byURI       map[string]*models.Certificate
	byRecipient map[string]*models.Certificate
	byRecTitle  map[string]*models.Certificate
	setCalls    []string
	setResult   bool
	setErr      error
}

func (s *fakeStore) get(m map[string]*models.Certificate, key string) (*models.Certificate, error) {
	if c, ok := m[key]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeStore) GetByShareToken(ctx context.Context, token string) (*models.Certificate, error) {
	return s.get(s.byToken, token)
}

func (s *fakeStore) GetByChainID(ctx context.Context, chainID string) (*models.Certificate, error) {
	return s.get(s.byChainID, strings.ToLower(chainID))
}

func (s *fakeStore) GetByMetadataURI(ctx context.Context, uri string) (*models.Certificate, error) {
	return s.get(s.byURI, uri)
}

func (s *fakeStore) GetLatestByRecipient(ctx context.Context, recipient string) (*models.Certificate, error) {
	return s.get(s.byRecipient, strings.ToLower(recipient))
}

func (s *fakeStore) GetLatestByRecipientAndTitle(ctx context.Context, recipient, title string) (*models.Certificate, error) {
	return s.get(s.byRecTitle, strings.ToLower(recipient)+"|"+title)
}

func (s *fakeStore) SetChainID(ctx context.Context, id uuid.UUID, chainID string) (bool, error) {
	s.setCalls = append(s.setCalls, id.String()+"="+chainID)
	if s.setErr != nil {
		return false, s.setErr
	}
	return s.setResult, nil
}

type fakeChain struct {
	summaries []chain.CertificateSummary
	detail    *chain.Certificate
	err       error
	detailErr error
	calls     int
}

func (c *fakeChain) GetCertificatesByRecipient(ctx context.Context, recipient common.Address) ([]chain.CertificateSummary, error) {
	c.calls++
	return c.summaries, c.err
}

func (c *fakeChain) GetCertificateDetails(ctx context.Context, certID string) (*chain.Certificate, error) {
	return c.detail, c.detailErr
}

var (
	testChainID   = "0x" + strings.Repeat("ab", 32)
	testRecipient = "0x2222222222222222222222222222222222222222"
)

func anchored(id uuid.UUID) *models.Certificate {
	chainID := testChainID
	return &models.Certificate{
		ID:               id,
		Title:            "Go Cert",
		RecipientAddress: testRecipient,
		Status:           models.CertStatusIssued,
		ShareToken:       uuid.NewString(),
		BlockchainCertID: &chainID,
	}
}

func unanchored(id uuid.UUID) *models.Certificate {
	return &models.Certificate{
		ID:               id,
		Title:            "Go Cert",
		RecipientAddress: testRecipient,
		Status:           models.CertStatusPending,
		ShareToken:       uuid.NewString(),
	}
}

func newResolver(store *fakeStore, ch *fakeChain) *Resolver {
	return NewResolver(store, ch, zap.NewNop())
}

func TestResolveRawChainID(t *testing.T) {
	cert := anchored(uuid.New())
	store := &fakeStore{byChainID: map[string]*models.Certificate{testChainID: cert}}
	r := newResolver(store, &fakeChain{})

	for _, input := range []string{testChainID, strings.TrimPrefix(testChainID, "0x"), strings.ToUpper(testChainID[2:])} {
		res, err := r.Resolve(context.Background(), input)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", input, err)
		}
		if res.Source != SourceChainID {
			t.Errorf("Resolve(%q) source = %s, want chain_id", input, res.Source)
		}
		if res.ChainID != testChainID {
			t.Errorf("Resolve(%q) chain id = %s, want %s", input, res.ChainID, testChainID)
		}
		if res.Certificate == nil || res.Certificate.ID != cert.ID {
			t.Errorf("Resolve(%q) did not attach the local record", input)
		}
	}
}

func TestResolveChainIDWithoutLocalRecord(t *testing.T) {
	r := newResolver(&fakeStore{}, &fakeChain{})

	res, err := r.Resolve(context.Background(), testChainID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ChainID != testChainID || res.Certificate != nil {
		t.Errorf("Resolve() = %+v, want bare chain id", res)
	}
}

func TestResolveRecipientAddress(t *testing.T) {
	newest := anchored(uuid.New())
	store := &fakeStore{byRecipient: map[string]*models.Certificate{
		strings.ToLower(testRecipient): newest,
	}}
	ch := &fakeChain{}
	r := newResolver(store, ch)

	for _, input := range []string{testRecipient, "0X" + testRecipient[2:]} {
		res, err := r.Resolve(context.Background(), input)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", input, err)
		}
		if res.Source != SourceRecipient {
			t.Errorf("Resolve(%q) source = %s, want recipient_address", input, res.Source)
		}
		if res.Certificate == nil || res.Certificate.ID != newest.ID {
			t.Errorf("Resolve(%q) did not attach the newest recipient record", input)
		}
		if res.ChainID != testChainID {
			t.Errorf("Resolve(%q) chain id = %s, want %s", input, res.ChainID, testChainID)
		}
	}
	if ch.calls != 0 {
		t.Errorf("chain called %d times, want 0 for an anchored record", ch.calls)
	}
}

func TestResolveChainIDAdoptsPendingRecord(t *testing.T) {
	cert := unanchored(uuid.New())
	store := &fakeStore{
		byRecTitle: map[string]*models.Certificate{
			strings.ToLower(testRecipient) + "|Go Cert": cert,
		},
		setResult: true,
	}
	ch := &fakeChain{detail: &chain.Certificate{
		Name:      "Go Cert",
		Recipient: common.HexToAddress(testRecipient),
	}}
	r := newResolver(store, ch)

	res, err := r.Resolve(context.Background(), testChainID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Source != SourceChainID || res.ChainID != testChainID {
		t.Fatalf("Resolve() = %+v", res)
	}
	if res.Certificate == nil || res.Certificate.ID != cert.ID {
		t.Fatalf("Resolve() did not adopt the matching off-chain record")
	}
	if res.Certificate.BlockchainCertID == nil || *res.Certificate.BlockchainCertID != testChainID {
		t.Errorf("adopted record not linked: %+v", res.Certificate)
	}
	if res.Certificate.Status != models.CertStatusIssued {
		t.Errorf("status = %s, want issued after linking", res.Certificate.Status)
	}
	if len(store.setCalls) != 1 {
		t.Errorf("SetChainID called %d times, want 1", len(store.setCalls))
	}
}

func TestResolveChainIDAdoptSkipsLinkedRecord(t *testing.T) {
	cert := anchored(uuid.New()) // already linked to a different registry id
	otherID := "0x" + strings.Repeat("cd", 32)
	cert.BlockchainCertID = &otherID
	store := &fakeStore{byRecTitle: map[string]*models.Certificate{
		strings.ToLower(testRecipient) + "|Go Cert": cert,
	}}
	ch := &fakeChain{detail: &chain.Certificate{
		Name:      "Go Cert",
		Recipient: common.HexToAddress(testRecipient),
	}}
	r := newResolver(store, ch)

	res, err := r.Resolve(context.Background(), testChainID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Certificate != nil {
		t.Errorf("Resolve() attached %+v, want bare chain id", res.Certificate)
	}
	if len(store.setCalls) != 0 {
		t.Errorf("SetChainID called %d times, want 0 for a linked record", len(store.setCalls))
	}
}

func TestResolveChainIDAdoptLostRace(t *testing.T) {
	cert := unanchored(uuid.New())
	store := &fakeStore{
		byRecTitle: map[string]*models.Certificate{
			strings.ToLower(testRecipient) + "|Go Cert": cert,
		},
		setResult: false,
	}
	ch := &fakeChain{detail: &chain.Certificate{
		Name:      "Go Cert",
		Recipient: common.HexToAddress(testRecipient),
	}}
	r := newResolver(store, ch)

	res, err := r.Resolve(context.Background(), testChainID)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ChainID != testChainID {
		t.Errorf("chain id = %s, want %s", res.ChainID, testChainID)
	}
	if res.Certificate != nil {
		t.Errorf("Resolve() attached %+v, want none when the write was lost", res.Certificate)
	}
}

func TestResolveShareToken(t *testing.T) {
	cert := anchored(uuid.New())
	store := &fakeStore{byToken: map[string]*models.Certificate{cert.ShareToken: cert}}
	ch := &fakeChain{}
	r := newResolver(store, ch)

	inputs := []string{
		cert.ShareToken,
		"https://certs.example.com/verify/" + cert.ShareToken,
		"https://certs.example.com/verify/" + cert.ShareToken + "?utm=x",
	}
	for _, input := range inputs {
		res, err := r.Resolve(context.Background(), input)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", input, err)
		}
		if res.Source != SourceShareToken {
			t.Errorf("Resolve(%q) source = %s, want share_token", input, res.Source)
		}
		if res.ChainID != testChainID {
			t.Errorf("Resolve(%q) chain id = %s, want %s", input, res.ChainID, testChainID)
		}
	}
	if ch.calls != 0 {
		t.Errorf("chain called %d times, want 0 for share-token lookups", ch.calls)
	}
}

func TestResolveMetadataURI(t *testing.T) {
	cert := anchored(uuid.New())
	uri := "ipfs://QmSomeHash"
	store := &fakeStore{byURI: map[string]*models.Certificate{uri: cert}}
	r := newResolver(store, &fakeChain{})

	res, err := r.Resolve(context.Background(), uri)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Source != SourceMetadataURI || res.ChainID != testChainID {
		t.Errorf("Resolve() = %+v", res)
	}
}

func TestResolveUnresolved(t *testing.T) {
	r := newResolver(&fakeStore{}, &fakeChain{})

	for _, input := range []string{"", "   ", "garbage", "0x9999999999999999999999999999999999999999", "https://example.com/something-else"} {
		if _, err := r.Resolve(context.Background(), input); !errors.Is(err, ErrUnresolved) {
			t.Errorf("Resolve(%q) error = %v, want ErrUnresolved", input, err)
		}
	}
}

func TestResolveBackfillsChainID(t *testing.T) {
	cert := unanchored(uuid.New())
	store := &fakeStore{
		byToken:   map[string]*models.Certificate{cert.ShareToken: cert},
		setResult: true,
	}
	ch := &fakeChain{summaries: []chain.CertificateSummary{
		{
			CertID:      common.HexToHash(testChainID),
			Certificate: chain.Certificate{Name: "Go Cert", Recipient: common.HexToAddress(testRecipient)},
		},
	}}
	r := newResolver(store, ch)

	res, err := r.Resolve(context.Background(), cert.ShareToken)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ChainID != testChainID {
		t.Errorf("chain id = %s, want backfilled %s", res.ChainID, testChainID)
	}
	if len(store.setCalls) != 1 {
		t.Errorf("SetChainID called %d times, want 1", len(store.setCalls))
	}
	if res.Certificate.BlockchainCertID == nil || *res.Certificate.BlockchainCertID != testChainID {
		t.Errorf("record not updated in resolution: %+v", res.Certificate)
	}
}

func TestResolveBackfillFirstMatchWins(t *testing.T) {
	cert := unanchored(uuid.New())
	store := &fakeStore{
		byToken:   map[string]*models.Certificate{cert.ShareToken: cert},
		setResult: true,
	}
	otherID := "0x" + strings.Repeat("cd", 32)
	ch := &fakeChain{summaries: []chain.CertificateSummary{
		{CertID: common.HexToHash(testChainID), Certificate: chain.Certificate{Name: "Go Cert"}},
		{CertID: common.HexToHash(otherID), Certificate: chain.Certificate{Name: "Go Cert"}},
	}}
	r := newResolver(store, ch)

	res, err := r.Resolve(context.Background(), cert.ShareToken)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ChainID != testChainID {
		t.Errorf("chain id = %s, want first match %s", res.ChainID, testChainID)
	}
	if len(store.setCalls) != 1 {
		t.Errorf("SetChainID called %d times, want 1", len(store.setCalls))
	}
}

func TestResolveBackfillLostRace(t *testing.T) {
	cert := unanchored(uuid.New())
	winner := anchored(uuid.New()) // a different record claimed the chain id
	store := &fakeStore{
		byToken:   map[string]*models.Certificate{cert.ShareToken: cert},
		byChainID: map[string]*models.Certificate{testChainID: winner},
		setResult: false,
	}
	ch := &fakeChain{summaries: []chain.CertificateSummary{
		{CertID: common.HexToHash(testChainID), Certificate: chain.Certificate{Name: "Go Cert"}},
	}}
	r := newResolver(store, ch)

	res, err := r.Resolve(context.Background(), cert.ShareToken)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.ChainID != "" {
		t.Errorf("chain id = %s, want empty when another record owns it", res.ChainID)
	}
}

func TestResolveBackfillChainErrorNonFatal(t *testing.T) {
	cert := unanchored(uuid.New())
	store := &fakeStore{byToken: map[string]*models.Certificate{cert.ShareToken: cert}}
	r := newResolver(store, &fakeChain{err: errors.New("rpc down")})

	res, err := r.Resolve(context.Background(), cert.ShareToken)
	if err != nil {
		t.Fatalf("Resolve() error = %v, chain failure must not break resolution", err)
	}
	if res.ChainID != "" || res.Certificate == nil {
		t.Errorf("Resolve() = %+v, want local record without chain id", res)
	}
}

func TestResolveByRecipientTitle(t *testing.T) {
	cert := anchored(uuid.New())
	store := &fakeStore{byRecTitle: map[string]*models.Certificate{
		strings.ToLower(testRecipient) + "|Go Cert": cert,
	}}
	r := newResolver(store, &fakeChain{})

	res, err := r.ResolveByRecipientTitle(context.Background(), testRecipient, "Go Cert")
	if err != nil {
		t.Fatalf("ResolveByRecipientTitle() error = %v", err)
	}
	if res.Source != SourceRecipientTitle || res.ChainID != testChainID {
		t.Errorf("ResolveByRecipientTitle() = %+v", res)
	}

	if _, err := r.ResolveByRecipientTitle(context.Background(), "bad-address", "Go Cert"); !errors.Is(err, ErrUnresolved) {
		t.Errorf("error = %v, want ErrUnresolved for bad address", err)
	}
	if _, err := r.ResolveByRecipientTitle(context.Background(), testRecipient, "Unknown"); !errors.Is(err, ErrUnresolved) {
		t.Errorf("error = %v, want ErrUnresolved for unknown title", err)
	}
}
