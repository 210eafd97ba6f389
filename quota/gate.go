package quota

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"imageforge/models"
	"imageforge/repository"
)

// GenerateRequest is a validated generation request.
type GenerateRequest struct {
	Prompt  string
	Size    string
	Quality string
	Style   string
}

// Artifact is what the external provider returns for an admitted
// request.
type Artifact struct {
	URL           string
	RevisedPrompt string
}

// Generator is the external image-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Artifact, error)
}

// Archiver copies a provider-hosted artifact into durable storage.
// Optional; archiving is best effort.
type Archiver interface {
	Archive(ctx context.Context, userID uuid.UUID, imageURL string) (s3Key string, err error)
}

// Result is the gate's admission outcome. Usage always carries current
// counters, for client display on both outcomes.
type Result struct {
	Admitted bool
	Image    *models.GeneratedImage
	Usage    Usage
}

// Gate makes the single admission decision in front of the generation
// provider. The check-then-commit order is deliberate: the counter must
// only reflect artifacts that exist, so a provider failure between
// admission and commit leaves quota untouched.
type Gate struct {
	Ledger    *Ledger
	Users     repository.UserRepo
	Images    repository.ImageRepo
	Generator Generator
	Archiver  Archiver
	Log       zerolog.Logger
}

// Generate re-fetches quota state, admits or rejects, invokes the
// provider, and commits exactly one slot on success. Two requests racing
// for the last slot both pass the pre-check, but the conditional
// increment lets only one commit; the loser is reported as a quota
// rejection and its artifact is discarded.
func (g *Gate) Generate(ctx context.Context, userID uuid.UUID, req GenerateRequest) (*Result, error) {
	// Never trust previously-issued state; it may have changed since the
	// request was issued.
	user, err := g.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !CanAdmit(user) {
		return &Result{
			Admitted: false,
			Usage:    Usage{ImagesGenerated: user.ImagesGenerated, MaxImages: user.MaxImages},
		}, nil
	}

	artifact, err := g.Generator.Generate(ctx, req)
	if err != nil {
		// No quota mutation on any provider failure, timeouts included.
		return nil, err
	}

	usage, applied, err := g.Ledger.RecordSuccess(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !applied {
		g.Log.Warn().
			Str("user_id", userID.String()).
			Int("images_generated", usage.ImagesGenerated).
			Int("max_images", usage.MaxImages).
			Msg("generation lost quota race, discarding artifact")
		return &Result{Admitted: false, Usage: usage}, nil
	}

	img := &models.GeneratedImage{
		ID:       uuid.New(),
		UserID:   userID,
		Prompt:   req.Prompt,
		ImageURL: artifact.URL,
		Size:     req.Size,
		Quality:  req.Quality,
		Style:    req.Style,
		Model:    "dall-e-3",
	}
	if artifact.RevisedPrompt != "" {
		img.RevisedPrompt = sql.NullString{String: artifact.RevisedPrompt, Valid: true}
	}

	if g.Archiver != nil {
		key, archiveErr := g.Archiver.Archive(ctx, userID, artifact.URL)
		if archiveErr != nil {
			g.Log.Warn().Err(archiveErr).
				Str("user_id", userID.String()).
				Msg("failed to archive generated image")
		} else {
			img.S3Key = sql.NullString{String: key, Valid: true}
		}
	}

	if err := g.Images.Insert(ctx, img); err != nil {
		// The slot is already committed and the artifact exists; losing
		// the history row is not a reason to fail the generation.
		g.Log.Error().Err(err).
			Str("user_id", userID.String()).
			Msg("failed to persist generated image")
	}

	return &Result{Admitted: true, Image: img, Usage: usage}, nil
}
