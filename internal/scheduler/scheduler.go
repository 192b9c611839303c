package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/projectlux/internal/ability"
	"github.com/udisondev/projectlux/internal/attribute"
	"github.com/udisondev/projectlux/internal/effect"
	"github.com/udisondev/projectlux/internal/tag"
)

var (
	ErrUnknownActor      = errors.New("unknown actor")
	ErrDuplicateActor    = errors.New("actor already exists")
	ErrUnknownAbility    = errors.New("unknown ability")
	ErrAbilityNotGranted = errors.New("ability not granted")
	ErrUnknownEffect     = errors.New("unknown effect")
)

// Definitions resolves static ability and effect definitions by ID.
type Definitions interface {
	Ability(id string) (*ability.Definition, bool)
	Effect(id string) (*effect.Definition, bool)
}

// TransitionFunc observes ability state changes of every actor.
// It runs under the actor lock and must not call back into the Scheduler.
type TransitionFunc func(actorID string, tr ability.Transition)

// Scheduler owns actors and serializes every operation on one actor behind
// its own mutex. Different actors run concurrently; the actor table itself
// is read-mostly.
type Scheduler struct {
	defs Definitions

	mu     sync.RWMutex
	actors map[string]*actor

	noneMode    effect.NoneMode
	tickWorkers int
	onTrans     []TransitionFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNoneMode sets how StackNone effects behave on every actor.
func WithNoneMode(mode effect.NoneMode) Option {
	return func(s *Scheduler) { s.noneMode = mode }
}

// WithTickWorkers bounds the number of actors ticked in parallel by TickAll.
func WithTickWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.tickWorkers = n
		}
	}
}

// WithTransitionObserver registers fn for every ability transition.
func WithTransitionObserver(fn TransitionFunc) Option {
	return func(s *Scheduler) { s.onTrans = append(s.onTrans, fn) }
}

// New creates a Scheduler resolving definitions through defs.
func New(defs Definitions, opts ...Option) *Scheduler {
	s := &Scheduler{
		defs:        defs,
		actors:      make(map[string]*actor),
		tickWorkers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddActor registers a new actor with the given attribute schema.
func (s *Scheduler) AddActor(id string, attrs []attribute.Definition) error {
	set, err := attribute.NewSet(attrs...)
	if err != nil {
		return fmt.Errorf("creating actor %s: %w", id, err)
	}

	a := &actor{
		id:        id,
		attrs:     set,
		tags:      tag.NewContainer(),
		abilities: make(map[string]*ability.Instance),
	}
	a.effects = effect.NewManager(a, effect.WithNoneMode(s.noneMode))
	a.effects.OnRemoved(a.onEffectRemoved)
	a.tags.Subscribe(a.onTagChange)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actors[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateActor, id)
	}
	s.actors[id] = a
	slog.Debug("actor added", "actor", id, "attributes", len(attrs))
	return nil
}

// RemoveActor drops an actor. Returns false if it was not registered.
func (s *Scheduler) RemoveActor(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actors[id]; !ok {
		return false
	}
	delete(s.actors, id)
	slog.Debug("actor removed", "actor", id)
	return true
}

// Actors returns the registered actor IDs, sorted.
func (s *Scheduler) Actors() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.actors))
	for id := range s.actors {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// GrantAbility gives the actor an Inactive instance of the ability.
// Granting twice is a no-op.
func (s *Scheduler) GrantAbility(actorID, abilityID string) error {
	a, err := s.actor(actorID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = s.grant(a, abilityID)
	return err
}

// RequestActivation activates an ability on the actor.
//
// Abilities matched by the new ability's CancelTags are cancelled first,
// each reaching Inactive before the next, and the ability moves to
// Activating, committing at once when it has no cast time. Guards are
// evaluated against the tags left after those cancellations, so a block
// held only by a cancelled ability does not stop the request. A failing
// guard leaves every ability on the actor untouched.
func (s *Scheduler) RequestActivation(actorID, abilityID string) error {
	a, in, err := s.lockInstance(actorID, abilityID)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()

	targets := a.cancelTargets(in, in.Definition().CancelTags)
	tags := a.tags
	if len(targets) > 0 {
		tags = a.tagsAfterCancel(targets)
	}
	if err := in.CheckWith(a, tags); err != nil {
		return err
	}

	for _, target := range targets {
		target.Cancel(a)
	}
	if len(targets) > 0 {
		slog.Debug("cancelled abilities before activation", "actor", a.id, "ability", abilityID, "count", len(targets))
	}

	if err := in.Begin(a); err != nil {
		return err
	}
	if in.Definition().CastTime <= 0 {
		return in.Commit(a)
	}
	return nil
}

// CanActivate evaluates the activation guards without changing anything.
func (s *Scheduler) CanActivate(actorID, abilityID string) error {
	a, in, err := s.lockInstance(actorID, abilityID)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()
	return in.Check(a)
}

// Cancel cancels an Activating or Active ability. Cancelling an ability in
// any other state is a no-op.
func (s *Scheduler) Cancel(actorID, abilityID string) error {
	a, in, err := s.lockInstance(actorID, abilityID)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()
	in.Cancel(a)
	return nil
}

// End completes an Active ability normally, starting its cooldown.
func (s *Scheduler) End(actorID, abilityID string) error {
	a, in, err := s.lockInstance(actorID, abilityID)
	if err != nil {
		return err
	}
	defer a.mu.Unlock()
	return in.Complete(a)
}

// Tick advances the actor's effects and ability timers by dt.
func (s *Scheduler) Tick(actorID string, dt time.Duration) error {
	a, err := s.actor(actorID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tick(dt)
	return nil
}

// TickAll ticks every actor, at most tickWorkers of them in parallel.
func (s *Scheduler) TickAll(ctx context.Context, dt time.Duration) error {
	s.mu.RLock()
	actors := make([]*actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.tickWorkers)
	for _, a := range actors {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.mu.Lock()
			defer a.mu.Unlock()
			a.tick(dt)
			return nil
		})
	}
	return g.Wait()
}

// ApplyEffect applies an effect definition to target on behalf of source.
// The source's current attribute values are captured under its own lock,
// then the effect is applied under the target's lock; the two locks are
// never held together. An empty sourceID applies the effect without a source.
func (s *Scheduler) ApplyEffect(targetID, effectID, sourceID string, level float64) (effect.Handle, error) {
	def, ok := s.defs.Effect(effectID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEffect, effectID)
	}
	target, err := s.actor(targetID)
	if err != nil {
		return 0, err
	}

	src := effect.Source{ActorID: sourceID, Level: level}
	if sourceID != "" && sourceID != targetID {
		source, err := s.actor(sourceID)
		if err != nil {
			return 0, err
		}
		source.mu.Lock()
		src.Attributes = source.attrs.Values()
		source.mu.Unlock()
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if sourceID == targetID {
		src.Attributes = target.attrs.Values()
	}
	h, err := target.effects.Apply(def, src)
	if err != nil {
		return 0, fmt.Errorf("applying %s to %s: %w", effectID, targetID, err)
	}
	return h, nil
}

// RemoveEffect removes an active effect from the actor.
func (s *Scheduler) RemoveEffect(actorID string, h effect.Handle) error {
	a, err := s.actor(actorID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effects.Remove(h)
}

// CurrentValue returns the current value of an attribute of the actor.
func (s *Scheduler) CurrentValue(actorID, attr string) (float64, error) {
	a, err := s.actor(actorID)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attrs.CurrentValue(attr)
}

// HasTag reports whether the actor holds query or one of its descendants.
func (s *Scheduler) HasTag(actorID string, query tag.Tag) (bool, error) {
	a, err := s.actor(actorID)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tags.Has(query), nil
}

// Tags returns the tags currently held by the actor.
func (s *Scheduler) Tags(actorID string) (tag.Set, error) {
	a, err := s.actor(actorID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tags.Tags(), nil
}

// State returns the lifecycle state of a granted ability.
func (s *Scheduler) State(actorID, abilityID string) (ability.State, error) {
	a, in, err := s.lockInstance(actorID, abilityID)
	if err != nil {
		return ability.Inactive, err
	}
	defer a.mu.Unlock()
	return in.State(), nil
}

// ActiveEffects returns the persisted form of every active effect on the actor.
func (s *Scheduler) ActiveEffects(actorID string) ([]effect.State, error) {
	a, err := s.actor(actorID)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.effects.States(), nil
}

func (s *Scheduler) actor(id string) (*actor, error) {
	s.mu.RLock()
	a, ok := s.actors[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActor, id)
	}
	return a, nil
}

// lockInstance returns the actor locked together with its ability instance.
// On error the actor is left unlocked.
func (s *Scheduler) lockInstance(actorID, abilityID string) (*actor, *ability.Instance, error) {
	a, err := s.actor(actorID)
	if err != nil {
		return nil, nil, err
	}
	a.mu.Lock()
	in, ok := a.abilities[abilityID]
	if !ok {
		a.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s on %s", ErrAbilityNotGranted, abilityID, actorID)
	}
	return a, in, nil
}

// grant creates the instance for abilityID. The caller holds a.mu.
func (s *Scheduler) grant(a *actor, abilityID string) (*ability.Instance, error) {
	if in, ok := a.abilities[abilityID]; ok {
		return in, nil
	}
	def, ok := s.defs.Ability(abilityID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAbility, abilityID)
	}

	in := ability.NewInstance(def)
	for _, fn := range s.onTrans {
		in.OnTransition(func(tr ability.Transition) { fn(a.id, tr) })
	}
	a.abilities[abilityID] = in
	a.order = append(a.order, in)
	slog.Debug("ability granted", "actor", a.id, "ability", abilityID)
	return in, nil
}
