package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageforge/models"
	"imageforge/repository"
)

type fakeGenerator struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*Artifact, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &Artifact{URL: "https://cdn.example.com/" + req.Prompt + ".png", RevisedPrompt: "revised: " + req.Prompt}, nil
}

type fakeImageRepo struct {
	mu     sync.Mutex
	images []*models.GeneratedImage
	err    error
}

func (f *fakeImageRepo) Insert(_ context.Context, img *models.GeneratedImage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	img.CreatedAt = time.Now()
	f.images = append(f.images, img)
	return nil
}

func (f *fakeImageRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.GeneratedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.GeneratedImage
	for _, img := range f.images {
		if img.UserID == userID && !img.Deleted {
			out = append(out, *img)
		}
	}
	return out, nil
}

func (f *fakeImageRepo) CountByUser(_ context.Context, userID uuid.UUID) (int, error) {
	imgs, _ := f.ListByUser(context.Background(), userID, 0, 0)
	return len(imgs), nil
}

func (f *fakeImageRepo) SoftDelete(_ context.Context, id, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, img := range f.images {
		if img.ID == id && img.UserID == userID && !img.Deleted {
			img.Deleted = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeImageRepo) PurgeDeletedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	return nil, nil
}

type fakeArchiver struct {
	err error
}

func (a *fakeArchiver) Archive(_ context.Context, userID uuid.UUID, imageURL string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "generated/" + userID.String() + "/artifact.png", nil
}

func newTestGate(users *fakeUserRepo, gen Generator, images *fakeImageRepo) *Gate {
	return &Gate{
		Ledger:    &Ledger{Users: users},
		Users:     users,
		Images:    images,
		Generator: gen,
		Log:       zerolog.Nop(),
	}
}

func TestGenerateAdmitsAndCommits(t *testing.T) {
	user := &models.User{UUID: uuid.New(), MaxImages: 5}
	users := newFakeUserRepo(user)
	gen := &fakeGenerator{}
	images := &fakeImageRepo{}
	gate := newTestGate(users, gen, images)
	gate.Archiver = &fakeArchiver{}

	res, err := gate.Generate(context.Background(), user.UUID, GenerateRequest{
		Prompt: "a lighthouse at dusk", Size: "1024x1024", Quality: "standard", Style: "vivid",
	})
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.Equal(t, 1, res.Usage.ImagesGenerated)
	assert.Equal(t, 5, res.Usage.MaxImages)

	require.NotNil(t, res.Image)
	assert.Equal(t, "a lighthouse at dusk", res.Image.Prompt)
	assert.Equal(t, "dall-e-3", res.Image.Model)
	assert.True(t, res.Image.RevisedPrompt.Valid)
	assert.True(t, res.Image.S3Key.Valid)
	assert.Len(t, images.images, 1)
}

func TestGenerateRejectsAtCeiling(t *testing.T) {
	user := &models.User{UUID: uuid.New(), ImagesGenerated: 5, MaxImages: 5}
	users := newFakeUserRepo(user)
	gen := &fakeGenerator{}
	gate := newTestGate(users, gen, &fakeImageRepo{})

	res, err := gate.Generate(context.Background(), user.UUID, GenerateRequest{Prompt: "anything"})
	require.NoError(t, err)
	assert.False(t, res.Admitted)
	assert.Nil(t, res.Image)
	assert.Equal(t, 5, res.Usage.ImagesGenerated)
	assert.Equal(t, 5, res.Usage.MaxImages)

	// The provider must never be called for a rejected request.
	assert.Equal(t, int32(0), gen.calls.Load())
}

func TestGenerateProviderFailureLeavesQuotaUntouched(t *testing.T) {
	user := &models.User{UUID: uuid.New(), ImagesGenerated: 2, MaxImages: 5}
	users := newFakeUserRepo(user)
	gen := &fakeGenerator{err: errors.New("provider unavailable")}
	images := &fakeImageRepo{}
	gate := newTestGate(users, gen, images)

	_, err := gate.Generate(context.Background(), user.UUID, GenerateRequest{Prompt: "a fox"})
	require.Error(t, err)

	got, err := users.GetByID(context.Background(), user.UUID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ImagesGenerated)
	assert.Empty(t, images.images)
}

func TestGenerateUnknownUser(t *testing.T) {
	gate := newTestGate(newFakeUserRepo(), &fakeGenerator{}, &fakeImageRepo{})
	_, err := gate.Generate(context.Background(), uuid.New(), GenerateRequest{Prompt: "a fox"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGenerateArchiveFailureIsBestEffort(t *testing.T) {
	user := &models.User{UUID: uuid.New(), MaxImages: 5}
	users := newFakeUserRepo(user)
	images := &fakeImageRepo{}
	gate := newTestGate(users, &fakeGenerator{}, images)
	gate.Archiver = &fakeArchiver{err: errors.New("bucket gone")}

	res, err := gate.Generate(context.Background(), user.UUID, GenerateRequest{Prompt: "a fox"})
	require.NoError(t, err)
	assert.True(t, res.Admitted)
	assert.False(t, res.Image.S3Key.Valid)
	assert.Len(t, images.images, 1)
}

// Two requests racing for the last slot both pass the pre-check, but the
// conditional increment lets exactly one commit.
func TestGenerateConcurrentLastSlot(t *testing.T) {
	user := &models.User{UUID: uuid.New(), ImagesGenerated: 4, MaxImages: 5}
	users := newFakeUserRepo(user)
	gen := &fakeGenerator{delay: 20 * time.Millisecond}
	images := &fakeImageRepo{}
	gate := newTestGate(users, gen, images)

	results := make(chan *Result, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := gate.Generate(context.Background(), user.UUID, GenerateRequest{Prompt: "a fox"})
			require.NoError(t, err)
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for res := range results {
		if res.Admitted {
			admitted++
		} else {
			assert.Equal(t, 5, res.Usage.ImagesGenerated)
			assert.Equal(t, 5, res.Usage.MaxImages)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, images.images, 1)

	got, err := users.GetByID(context.Background(), user.UUID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ImagesGenerated)
}
