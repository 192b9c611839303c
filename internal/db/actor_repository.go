package db

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/scheduler"
)

var (
	// ErrActorNotFound is returned by Load for an actor that was never saved.
	ErrActorNotFound = errors.New("actor snapshot not found")

	// ErrSnapshotCorrupt is returned when stored rows do not match the saved digest.
	ErrSnapshotCorrupt = errors.New("actor snapshot corrupt")
)

// SavedSnapshot is a snapshot with its storage metadata.
type SavedSnapshot struct {
	ID       uuid.UUID
	SavedAt  time.Time
	Snapshot scheduler.ActorSnapshot
}

// ActorRepository persists actor snapshots across sessions.
type ActorRepository struct {
	db *pgxpool.Pool
}

// NewActorRepository creates a new ActorRepository.
func NewActorRepository(db *pgxpool.Pool) *ActorRepository {
	return &ActorRepository{db: db}
}

// Save stores the snapshot (full rewrite) in one transaction and returns the
// id of the new revision.
func (r *ActorRepository) Save(ctx context.Context, snap scheduler.ActorSnapshot) (uuid.UUID, error) {
	digest, err := Digest(snap)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "actor", snap.ActorID, "error", err)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO actors (actor_id, snapshot_id, digest, saved_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (actor_id)
		DO UPDATE SET snapshot_id = $2, digest = $3, saved_at = now()`,
		snap.ActorID, id, digest[:],
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upserting actor %s: %w", snap.ActorID, err)
	}

	if err := saveAttributesTx(ctx, tx, snap); err != nil {
		return uuid.Nil, err
	}
	if err := saveEffectsTx(ctx, tx, snap); err != nil {
		return uuid.Nil, err
	}
	if err := saveAbilitiesTx(ctx, tx, snap); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("committing actor %s save: %w", snap.ActorID, err)
	}

	slog.Debug("saved actor snapshot",
		"actor", snap.ActorID,
		"snapshot", id,
		"effects", len(snap.Effects),
		"abilities", len(snap.Abilities))
	return id, nil
}

func saveAttributesTx(ctx context.Context, tx pgx.Tx, snap scheduler.ActorSnapshot) error {
	if _, err := tx.Exec(ctx, `DELETE FROM actor_attributes WHERE actor_id = $1`, snap.ActorID); err != nil {
		return fmt.Errorf("deleting attributes of %s: %w", snap.ActorID, err)
	}
	if len(snap.Attributes) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(snap.Attributes))
	for name, base := range snap.Attributes {
		rows = append(rows, []any{snap.ActorID, name, base})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"actor_attributes"},
		[]string{"actor_id", "name", "base"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("inserting attributes of %s: %w", snap.ActorID, err)
	}
	return nil
}

func saveEffectsTx(ctx context.Context, tx pgx.Tx, snap scheduler.ActorSnapshot) error {
	if _, err := tx.Exec(ctx, `DELETE FROM actor_effects WHERE actor_id = $1`, snap.ActorID); err != nil {
		return fmt.Errorf("deleting effects of %s: %w", snap.ActorID, err)
	}
	if len(snap.Effects) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(snap.Effects))
	for i, st := range snap.Effects {
		rows = append(rows, []any{
			snap.ActorID, int32(i), st.DefinitionID, st.SourceActorID, st.Level,
			int64(st.Remaining), int64(st.PeriodElapsed),
		})
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"actor_effects"},
		[]string{"actor_id", "position", "definition_id", "source_actor_id", "level", "remaining_ns", "period_elapsed_ns"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("inserting effects of %s: %w", snap.ActorID, err)
	}
	return nil
}

func saveAbilitiesTx(ctx context.Context, tx pgx.Tx, snap scheduler.ActorSnapshot) error {
	if _, err := tx.Exec(ctx, `DELETE FROM actor_abilities WHERE actor_id = $1`, snap.ActorID); err != nil {
		return fmt.Errorf("deleting abilities of %s: %w", snap.ActorID, err)
	}
	if len(snap.Abilities) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, as := range snap.Abilities {
		batch.Queue(`
			INSERT INTO actor_abilities
				(actor_id, position, ability_id, state, cast_remaining_ns, active_remaining_ns, cooldown_remaining_ns)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			snap.ActorID, int32(i), as.AbilityID, as.State.String(),
			int64(as.CastRemaining), int64(as.ActiveRemaining), int64(as.CooldownRemaining),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range snap.Abilities {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("inserting abilities of %s: %w", snap.ActorID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing ability batch of %s: %w", snap.ActorID, err)
	}
	return nil
}

// Load reads the latest snapshot of an actor and verifies its digest.
func (r *ActorRepository) Load(ctx context.Context, actorID string) (SavedSnapshot, error) {
	saved := SavedSnapshot{Snapshot: scheduler.ActorSnapshot{ActorID: actorID}}

	// One snapshot of all four tables, so a concurrent Save cannot interleave.
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return saved, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "actor", actorID, "error", err)
		}
	}()

	var stored []byte
	err = tx.QueryRow(ctx,
		`SELECT snapshot_id, digest, saved_at FROM actors WHERE actor_id = $1`, actorID,
	).Scan(&saved.ID, &stored, &saved.SavedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saved, fmt.Errorf("%w: %s", ErrActorNotFound, actorID)
	}
	if err != nil {
		return saved, fmt.Errorf("querying actor %s: %w", actorID, err)
	}

	snap := &saved.Snapshot
	if snap.Attributes, err = loadAttributesTx(ctx, tx, actorID); err != nil {
		return saved, err
	}
	if snap.Effects, err = loadEffectsTx(ctx, tx, actorID); err != nil {
		return saved, err
	}
	if snap.Abilities, err = loadAbilitiesTx(ctx, tx, actorID); err != nil {
		return saved, err
	}
	if err := tx.Commit(ctx); err != nil {
		return saved, fmt.Errorf("committing actor %s load: %w", actorID, err)
	}

	digest, err := Digest(*snap)
	if err != nil {
		return saved, err
	}
	if subtle.ConstantTimeCompare(digest[:], stored) != 1 {
		return saved, fmt.Errorf("%w: %s (snapshot %s)", ErrSnapshotCorrupt, actorID, saved.ID)
	}
	return saved, nil
}

func loadAttributesTx(ctx context.Context, tx pgx.Tx, actorID string) (map[string]float64, error) {
	rows, err := tx.Query(ctx, `SELECT name, base FROM actor_attributes WHERE actor_id = $1`, actorID)
	if err != nil {
		return nil, fmt.Errorf("querying attributes of %s: %w", actorID, err)
	}
	defer rows.Close()

	out := make(map[string]float64, 32)
	for rows.Next() {
		var name string
		var base float64
		if err := rows.Scan(&name, &base); err != nil {
			return nil, fmt.Errorf("scanning attribute row: %w", err)
		}
		out[name] = base
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attribute rows: %w", err)
	}
	return out, nil
}

func loadEffectsTx(ctx context.Context, tx pgx.Tx, actorID string) ([]effect.State, error) {
	rows, err := tx.Query(ctx, `
		SELECT definition_id, source_actor_id, level, remaining_ns, period_elapsed_ns
		FROM actor_effects
		WHERE actor_id = $1
		ORDER BY position`, actorID)
	if err != nil {
		return nil, fmt.Errorf("querying effects of %s: %w", actorID, err)
	}
	defer rows.Close()

	var out []effect.State
	for rows.Next() {
		var st effect.State
		var remaining, elapsed int64
		if err := rows.Scan(&st.DefinitionID, &st.SourceActorID, &st.Level, &remaining, &elapsed); err != nil {
			return nil, fmt.Errorf("scanning effect row: %w", err)
		}
		st.Remaining = time.Duration(remaining)
		st.PeriodElapsed = time.Duration(elapsed)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating effect rows: %w", err)
	}
	return out, nil
}

func loadAbilitiesTx(ctx context.Context, tx pgx.Tx, actorID string) ([]ability.Snapshot, error) {
	rows, err := tx.Query(ctx, `
		SELECT ability_id, state, cast_remaining_ns, active_remaining_ns, cooldown_remaining_ns
		FROM actor_abilities
		WHERE actor_id = $1
		ORDER BY position`, actorID)
	if err != nil {
		return nil, fmt.Errorf("querying abilities of %s: %w", actorID, err)
	}
	defer rows.Close()

	var out []ability.Snapshot
	for rows.Next() {
		var as ability.Snapshot
		var state string
		var cast, active, cooldown int64
		if err := rows.Scan(&as.AbilityID, &state, &cast, &active, &cooldown); err != nil {
			return nil, fmt.Errorf("scanning ability row: %w", err)
		}
		if as.State, err = ability.ParseState(state); err != nil {
			return nil, fmt.Errorf("%w: ability %s: %w", ErrSnapshotCorrupt, as.AbilityID, err)
		}
		as.CastRemaining = time.Duration(cast)
		as.ActiveRemaining = time.Duration(active)
		as.CooldownRemaining = time.Duration(cooldown)
		out = append(out, as)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ability rows: %w", err)
	}
	return out, nil
}

// Delete removes an actor and all of its rows.
func (r *ActorRepository) Delete(ctx context.Context, actorID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM actors WHERE actor_id = $1`, actorID); err != nil {
		return fmt.Errorf("deleting actor %s: %w", actorID, err)
	}
	return nil
}

// List returns the IDs of every saved actor, sorted.
func (r *ActorRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT actor_id FROM actors ORDER BY actor_id`)
	if err != nil {
		return nil, fmt.Errorf("querying actors: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting actor ids: %w", err)
	}
	return ids, nil
}

// canonicalSnapshot is the digest input. Slices and maps are never nil so
// an empty save and its reload hash the same.
type canonicalSnapshot struct {
	ActorID    string             `msgpack:"actor_id"`
	Attributes map[string]float64 `msgpack:"attributes"`
	Effects    []effect.State     `msgpack:"effects"`
	Abilities  []ability.Snapshot `msgpack:"abilities"`
}

// Digest returns the BLAKE2b-256 digest of the canonical snapshot encoding.
func Digest(snap scheduler.ActorSnapshot) ([blake2b.Size256]byte, error) {
	c := canonicalSnapshot{
		ActorID:    snap.ActorID,
		Attributes: snap.Attributes,
		Effects:    append([]effect.State{}, snap.Effects...),
		Abilities:  append([]ability.Snapshot{}, snap.Abilities...),
	}
	if c.Attributes == nil {
		c.Attributes = map[string]float64{}
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(c); err != nil {
		return [blake2b.Size256]byte{}, fmt.Errorf("encoding snapshot of %s: %w", snap.ActorID, err)
	}
	return blake2b.Sum256(buf.Bytes()), nil
}
