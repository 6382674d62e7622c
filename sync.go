package dyad

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dyadsync/dyad/pkg/accounts"
	"github.com/dyadsync/dyad/pkg/contacts"
	"github.com/dyadsync/dyad/pkg/errors"
	"github.com/dyadsync/dyad/pkg/logging"
	"github.com/dyadsync/dyad/pkg/match"
	"github.com/dyadsync/dyad/pkg/reconcile"
	"github.com/dyadsync/dyad/pkg/state"
)

// Sync runs one reconciliation pass: fetch, normalize, match, detect,
// resolve, plan, apply, persist, report.
//
// A run is successful when fetch succeeded, even if individual
// mutations failed; per-record failures are isolated into the
// Result's Failures and their state is left unpersisted so they retry
// next run. Under dry-run no account mutation is issued and nothing
// is persisted.
func (d *dyad) Sync(ctx context.Context, opts ...SyncOption) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	options := NewSyncOptions(opts...)

	var cancel context.CancelFunc
	if options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	runLogger := d.logger.With().Str("run_id", runID).Logger()
	ctx = logging.WithLogger(ctx, &runLogger)

	strategy := d.config.strategy
	if options.Strategy != "" {
		strategy = options.Strategy
	}

	matcher := d.matcher
	if options.SimilarityThreshold > 0 || options.DryRun {
		mc := d.config.matchConfig
		if options.SimilarityThreshold > 0 {
			mc.SimilarityThreshold = options.SimilarityThreshold
		}
		classifier := d.classifier
		if options.DryRun {
			// a dry run must leave the store byte-identical, so new
			// classifier decisions are not cached either
			if cached, ok := classifier.(*match.CachedClassifier); ok {
				classifier = cached.ReadOnly()
			}
		}
		matcher = d.newMatcher(mc, classifier)
	}

	result := &Result{
		RunID:     runID,
		DryRun:    options.DryRun,
		StartedAt: time.Now(),
		Planned:   make(map[reconcile.Op]int),
	}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
	}()

	runLogger.Info().
		Bool("dry_run", options.DryRun).
		Bool("full", options.Full).
		Str("strategy", string(strategy)).
		Msg("Starting sync run")

	if !options.DryRun {
		if err := d.store.AcquireLock(ctx, runID); err != nil {
			return nil, err
		}
		defer func() {
			if err := d.store.ReleaseLock(context.WithoutCancel(ctx)); err != nil {
				runLogger.Warn().Err(err).Msg("Failed to release run lock")
			}
		}()

		// A forced full resync rebuilds cursors from scratch, which
		// makes it safe to interrupt and restart at any point.
		if options.Full {
			if err := d.store.ClearCursors(ctx); err != nil {
				return nil, err
			}
		}
	}

	// Step 1: fetch both sides.
	pageA, err := d.fetch(ctx, d.accountA, options)
	if err != nil {
		return nil, err
	}
	pageB, err := d.fetch(ctx, d.accountB, options)
	if err != nil {
		return nil, err
	}
	result.FetchedA = len(pageA.Contacts)
	result.FetchedB = len(pageB.Contacts)

	// Step 2: normalize and index.
	currentA := indexRecords(pageA.Contacts, d.accountA.Name(), &runLogger)
	currentB := indexRecords(pageB.Contacts, d.accountB.Name(), &runLogger)

	// Groups are reconciled before change detection so memberships can
	// be resolved to cross-account names, fingerprinted, and translated
	// while applying contact mutations.
	var groups *groupIndex
	if d.config.syncGroups {
		groups, err = d.syncGroups(ctx, options)
		if err != nil {
			return nil, err
		}
		annotateGroupNames(currentA, groups)
		annotateGroupNames(currentB, groups)
	}

	// Step 3: match records with no existing correspondence.
	mappings, err := d.store.Mappings(ctx)
	if err != nil {
		return nil, err
	}

	matchRes, err := matcher.Match(ctx,
		unmappedRecords(currentA, mappings, func(m state.Mapping) string { return m.AccountAID }),
		unmappedRecords(currentB, mappings, func(m state.Mapping) string { return m.AccountBID }))
	if err != nil {
		return nil, err
	}
	result.Matched = len(matchRes.Pairs)

	// Steps 4-6: classify and build the mutation plan.
	plan := reconcile.NewDetector(&runLogger).Detect(reconcile.Input{
		Mappings:   mappings,
		CurrentA:   currentA,
		CurrentB:   currentB,
		Pairs:      matchRes.Pairs,
		UnmatchedA: matchRes.UnmatchedA,
		UnmatchedB: matchRes.UnmatchedB,
		Strategy:   strategy,
	})
	result.Planned = plan.Counts()

	runLogger.Info().
		Int("fetched_a", result.FetchedA).
		Int("fetched_b", result.FetchedB).
		Int("matched", result.Matched).
		Int("actions", len(plan.Actions)).
		Int("mutations", plan.Mutations()).
		Msg("Plan built")

	// Steps 7-8: apply and persist, one record at a time.
	if err := d.applyPlan(ctx, plan, groups, options, result); err != nil {
		return result, err
	}

	// Step 8 continued: advance cursors.
	if !options.DryRun {
		if err := d.saveCursors(ctx, pageA, pageB); err != nil {
			return result, err
		}
	}

	// Step 9: report.
	result.Duration = time.Since(result.StartedAt)
	runLogger.Info().Stringer("summary", result).Msg("Sync run complete")
	return result, nil
}

// fetch lists one account's records, incrementally when a cursor is
// stored and a full fetch was not forced.
func (d *dyad) fetch(ctx context.Context, account accounts.Account, options *SyncOptions) (*accounts.Page, error) {
	cursor := ""
	if !options.Full {
		var err error
		cursor, err = d.store.Cursor(ctx, account.Name())
		if err != nil {
			return nil, err
		}
	}

	page, err := withRetry(ctx, d.config, func() (*accounts.Page, error) {
		return account.List(ctx, cursor)
	})
	if err != nil {
		return nil, &errors.SyncError{Account: account.Name(), Err: err}
	}

	logging.Ctx(ctx).Debug().
		Str("account", account.Name()).
		Bool("incremental", cursor != "").
		Int("records", len(page.Contacts)).
		Msg("Fetched records")
	return page, nil
}

// indexRecords normalizes fetched records into an ID-keyed map.
// Malformed live records are skipped and logged so they never reach
// the fingerprint or matching machinery; tombstones are always kept.
func indexRecords(records []*contacts.Contact, account string, logger *zerolog.Logger) map[string]*contacts.Contact {
	out := make(map[string]*contacts.Contact, len(records))
	for _, raw := range records {
		c := contacts.Normalize(raw)
		if !c.Deleted && !c.Valid() {
			logger.Warn().
				Str("account", account).
				Str("id", c.ID).
				Msg("Skipping record with no name or email")
			continue
		}
		out[c.ID] = c
	}
	return out
}

// annotateGroupNames resolves each record's account-local group IDs
// to normalized group names. Names, unlike IDs, are comparable across
// accounts and feed the content fingerprint, so a membership-only
// edit registers as a change.
func annotateGroupNames(current map[string]*contacts.Contact, groups *groupIndex) {
	for _, c := range current {
		c.GroupNames = nil
		if len(c.GroupIDs) == 0 {
			continue
		}
		var names []string
		for _, id := range c.GroupIDs {
			if name, ok := groups.nameByID[id]; ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		c.GroupNames = names
	}
}

// unmappedRecords returns live records with no stored correspondence,
// the matching pool for this pass.
func unmappedRecords(current map[string]*contacts.Contact, mappings []state.Mapping, id func(state.Mapping) string) []*contacts.Contact {
	mapped := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		mapped[id(m)] = struct{}{}
	}

	var out []*contacts.Contact
	for _, c := range current {
		if c.Deleted {
			continue
		}
		if _, ok := mapped[c.ID]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// applyPlan executes the plan one action at a time. A failing record
// is reported and skipped; authorization failures abort the run.
func (d *dyad) applyPlan(ctx context.Context, plan *reconcile.Plan, groups *groupIndex, options *SyncOptions, result *Result) error {
	logger := logging.Ctx(ctx)
	appliedA, appliedB := 0, 0

	for i := range plan.Actions {
		action := &plan.Actions[i]

		if err := ctx.Err(); err != nil {
			return err
		}

		if action.Op == reconcile.OpSkipDuplicate {
			logger.Warn().
				Str("id", sourceID(action)).
				Str("reason", action.Reason).
				Msg("Skipped potential duplicate")
			result.Skipped++
			continue
		}

		if options.DryRun {
			logger.Info().
				Str("op", string(action.Op)).
				Str("reason", action.Reason).
				Msg("Would apply")
			continue
		}

		if mutation, ontoA := mutates(action.Op); mutation {
			applied := &appliedB
			if ontoA {
				applied = &appliedA
			}
			if options.BatchSize > 0 && *applied >= options.BatchSize {
				result.Skipped++
				continue
			}

			if err := d.applyMutation(ctx, action, groups); err != nil {
				if errors.IsAuthorization(err) {
					return err
				}
				logger.Error().
					Err(err).
					Str("op", string(action.Op)).
					Str("reason", action.Reason).
					Msg("Record failed, will retry next run")
				result.Failures = append(result.Failures, Failure{
					Op:       action.Op,
					RecordID: sourceID(action),
					Reason:   err.Error(),
				})
				continue
			}
			*applied++
			result.Applied++
			continue
		}

		// store-only bookkeeping
		if err := d.persistBookkeeping(ctx, action); err != nil {
			logger.Error().
				Err(err).
				Str("op", string(action.Op)).
				Msg("State commit failed")
			result.Failures = append(result.Failures, Failure{
				Op:       action.Op,
				RecordID: sourceID(action),
				Reason:   err.Error(),
			})
		}
	}
	return nil
}

// mutates reports whether the op touches an account, and which one.
func mutates(op reconcile.Op) (mutation, ontoA bool) {
	switch op {
	case reconcile.OpCreateA, reconcile.OpUpdateA, reconcile.OpDeleteA:
		return true, true
	case reconcile.OpCreateB, reconcile.OpUpdateB, reconcile.OpDeleteB:
		return true, false
	default:
		return false, false
	}
}

func sourceID(action *reconcile.Action) string {
	if action.Source != nil {
		return action.Source.ID
	}
	if action.Mapping != nil {
		return action.Mapping.AccountAID
	}
	return ""
}

// applyMutation executes one account mutation and, on confirmation,
// commits the matching state atomically. The store is never updated
// before the account call succeeded.
func (d *dyad) applyMutation(ctx context.Context, action *reconcile.Action, groups *groupIndex) error {
	switch action.Op {
	case reconcile.OpCreateA:
		return d.create(ctx, action, d.accountB, d.accountA, groups, true)
	case reconcile.OpCreateB:
		return d.create(ctx, action, d.accountA, d.accountB, groups, false)
	case reconcile.OpUpdateA:
		return d.update(ctx, action, d.accountB, d.accountA, action.TargetAID(), groups, true)
	case reconcile.OpUpdateB:
		return d.update(ctx, action, d.accountA, d.accountB, action.TargetBID(), groups, false)
	case reconcile.OpDeleteA:
		return d.delete(ctx, action, d.accountA, action.TargetAID())
	case reconcile.OpDeleteB:
		return d.delete(ctx, action, d.accountB, action.TargetBID())
	default:
		return &errors.ValidationError{Field: "op", Message: "not a mutation: " + string(action.Op)}
	}
}

func (d *dyad) create(ctx context.Context, action *reconcile.Action, src, dst accounts.Account, groups *groupIndex, ontoA bool) error {
	newID, err := withRetry(ctx, d.config, func() (string, error) {
		return dst.Create(ctx, action.Source)
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Info().
		Str("account", dst.Name()).
		Str("id", newID).
		Str("from", action.Source.ID).
		Msg("Created record")

	extras := d.propagateExtras(ctx, src, dst, action.Source, nil, newID, groups, ontoA)

	fp := contacts.Fingerprint(action.Source)
	applied := appliedFingerprint(action.Source, nil, extras)
	var m state.Mapping
	if ontoA {
		m.AccountAID = newID
		m.AccountBID = action.Source.ID
		m.FingerprintA = applied
		m.FingerprintB = fp
	} else {
		m.AccountAID = action.Source.ID
		m.AccountBID = newID
		m.FingerprintA = fp
		m.FingerprintB = applied
	}
	return d.store.Transact(ctx, func(tx state.Store) error {
		return tx.PutMapping(ctx, m)
	})
}

func (d *dyad) update(ctx context.Context, action *reconcile.Action, src, dst accounts.Account, targetID string, groups *groupIndex, ontoA bool) error {
	_, err := withRetry(ctx, d.config, func() (struct{}, error) {
		return struct{}{}, dst.Update(ctx, targetID, action.Source)
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Info().
		Str("account", dst.Name()).
		Str("id", targetID).
		Bool("conflict", action.Conflict).
		Msg("Updated record")

	extras := d.propagateExtras(ctx, src, dst, action.Source, action.Target, targetID, groups, ontoA)

	// the loser now mirrors the winner, minus any extras it never
	// confirmed receiving
	fp := contacts.Fingerprint(action.Source)
	applied := appliedFingerprint(action.Source, action.Target, extras)
	m := *action.Mapping
	if ontoA {
		m.FingerprintA = applied
		m.FingerprintB = fp
	} else {
		m.FingerprintA = fp
		m.FingerprintB = applied
	}
	return d.store.Transact(ctx, func(tx state.Store) error {
		return tx.PutMapping(ctx, m)
	})
}

func (d *dyad) delete(ctx context.Context, action *reconcile.Action, dst accounts.Account, targetID string) error {
	_, err := withRetry(ctx, d.config, func() (struct{}, error) {
		err := dst.Delete(ctx, targetID)
		if errors.IsNotFound(err) {
			// already gone, deletion is confirmed
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		return err
	}

	logging.Ctx(ctx).Info().
		Str("account", dst.Name()).
		Str("id", targetID).
		Msg("Deleted record")

	return d.store.Transact(ctx, func(tx state.Store) error {
		return tx.DeleteMapping(ctx, action.Mapping.AccountAID)
	})
}

// persistBookkeeping commits store-only actions (new, refreshed, and
// dropped correspondences).
func (d *dyad) persistBookkeeping(ctx context.Context, action *reconcile.Action) error {
	switch action.Op {
	case reconcile.OpRecordMapping:
		return d.store.Transact(ctx, func(tx state.Store) error {
			return tx.PutMapping(ctx, state.Mapping{
				AccountAID:   action.Source.ID,
				AccountBID:   action.Target.ID,
				FingerprintA: contacts.Fingerprint(action.Source),
				FingerprintB: contacts.Fingerprint(action.Target),
			})
		})
	case reconcile.OpRefreshMapping:
		m := *action.Mapping
		m.FingerprintA = contacts.Fingerprint(action.Source)
		m.FingerprintB = contacts.Fingerprint(action.Target)
		return d.store.Transact(ctx, func(tx state.Store) error {
			return tx.PutMapping(ctx, m)
		})
	case reconcile.OpDropMapping:
		return d.store.Transact(ctx, func(tx state.Store) error {
			return tx.DeleteMapping(ctx, action.Mapping.AccountAID)
		})
	default:
		return nil
	}
}

// extrasResult reports whether the target record's memberships and
// photo mirror the source after propagation. Anything unconfirmed
// stays out of the committed target fingerprint.
type extrasResult struct {
	photoOK  bool
	groupsOK bool
}

// propagateExtras carries group memberships and the contact photo to
// the freshly written record. Failures here degrade the record, not
// the run: they are logged, and the committed fingerprints keep to
// what the target actually received.
func (d *dyad) propagateExtras(ctx context.Context, src, dst accounts.Account, source, target *contacts.Contact, targetID string, groups *groupIndex, ontoA bool) extrasResult {
	logger := logging.Ctx(ctx)
	res := extrasResult{photoOK: true, groupsOK: true}

	if d.config.syncGroups && groups != nil {
		targetIDs := groups.translate(source.GroupIDs, ontoA)
		if len(targetIDs) < len(source.GroupNames) {
			// some groups have no counterpart, the target cannot mirror
			res.groupsOK = false
		}
		clearing := target != nil && len(target.GroupNames) > 0
		if len(targetIDs) > 0 || clearing {
			if err := dst.SetMembership(ctx, targetID, targetIDs); err != nil {
				res.groupsOK = false
				logger.Warn().
					Err(err).
					Str("account", dst.Name()).
					Str("id", targetID).
					Msg("Failed to set group membership")
			}
		}
	}

	if !d.config.syncPhotos {
		res.photoOK = false
		return res
	}

	switch {
	case source.PhotoRef != "":
		data, err := src.FetchPhoto(ctx, source)
		if err != nil {
			res.photoOK = false
			logger.Warn().Err(err).Str("id", source.ID).Msg("Failed to fetch photo")
			return res
		}
		if len(data) == 0 {
			res.photoOK = false
			return res
		}
		if err := dst.SetPhoto(ctx, targetID, data); err != nil {
			res.photoOK = false
			logger.Warn().
				Err(err).
				Str("account", dst.Name()).
				Str("id", targetID).
				Msg("Failed to set photo")
		}
	case target != nil && target.PhotoRef != "":
		// photo removed at the source
		if err := dst.SetPhoto(ctx, targetID, nil); err != nil {
			res.photoOK = false
			logger.Warn().
				Err(err).
				Str("account", dst.Name()).
				Str("id", targetID).
				Msg("Failed to clear photo")
		}
	}
	return res
}

// appliedFingerprint computes the fingerprint to commit for the
// target side: the winner's content, minus extras the target never
// confirmed. Committing only confirmed state keeps a failed photo or
// membership write from reading as a target-side edit on the next
// pass, which would propagate the loss back to the winner.
func appliedFingerprint(source, target *contacts.Contact, extras extrasResult) string {
	if extras.photoOK && extras.groupsOK {
		return contacts.Fingerprint(source)
	}
	applied := source.Clone()
	if !extras.groupsOK {
		applied.GroupNames = nil
		if target != nil {
			applied.GroupNames = target.GroupNames
		}
	}
	if !extras.photoOK {
		applied.PhotoRef = ""
		if target != nil {
			applied.PhotoRef = target.PhotoRef
		}
	}
	return contacts.Fingerprint(applied)
}

func (d *dyad) saveCursors(ctx context.Context, pageA, pageB *accounts.Page) error {
	return d.store.Transact(ctx, func(tx state.Store) error {
		if pageA.NextCursor != "" {
			if err := tx.SetCursor(ctx, d.accountA.Name(), pageA.NextCursor); err != nil {
				return err
			}
		}
		if pageB.NextCursor != "" {
			if err := tx.SetCursor(ctx, d.accountB.Name(), pageB.NextCursor); err != nil {
				return err
			}
		}
		return nil
	})
}

// withRetry runs op with exponential backoff on transient errors
// (rate limits, timeouts, upstream outages). Other errors fail
// immediately.
func withRetry[T any](ctx context.Context, cfg *config, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.initialInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(cfg.maxRetries))
}

// groupIndex resolves group memberships across accounts by normalized
// group name.
type groupIndex struct {
	nameByID map[string]string // account-local group ID -> normalized name
	aByName  map[string]string // normalized name -> A-side group ID
	bByName  map[string]string // normalized name -> B-side group ID
}

// translate maps one side's group IDs to the other side's, dropping
// groups with no counterpart.
func (g *groupIndex) translate(ids []string, ontoA bool) []string {
	byName := g.bByName
	if ontoA {
		byName = g.aByName
	}

	var out []string
	for _, id := range ids {
		name, ok := g.nameByID[id]
		if !ok {
			continue
		}
		if target, ok := byName[name]; ok {
			out = append(out, target)
		}
	}
	sort.Strings(out)
	return out
}

// syncGroups reconciles contact groups by normalized name: groups
// present on one side only are created on the other (except system
// groups), and every shared name is recorded as a group mapping.
// Under dry-run no group is created and nothing is persisted.
func (d *dyad) syncGroups(ctx context.Context, options *SyncOptions) (*groupIndex, error) {
	logger := logging.Ctx(ctx)

	groupsA, err := withRetry(ctx, d.config, func() ([]*contacts.Group, error) {
		return d.accountA.ListGroups(ctx)
	})
	if err != nil {
		return nil, &errors.SyncError{Account: d.accountA.Name(), Err: err}
	}
	groupsB, err := withRetry(ctx, d.config, func() ([]*contacts.Group, error) {
		return d.accountB.ListGroups(ctx)
	})
	if err != nil {
		return nil, &errors.SyncError{Account: d.accountB.Name(), Err: err}
	}

	idx := &groupIndex{
		nameByID: make(map[string]string),
		aByName:  make(map[string]string),
		bByName:  make(map[string]string),
	}
	rawNames := make(map[string]string)

	index := func(groups []*contacts.Group, byName map[string]string) {
		for _, g := range groups {
			if g.System || g.Deleted {
				continue
			}
			key := g.Key()
			if key == "" {
				continue
			}
			idx.nameByID[g.ID] = key
			byName[key] = g.ID
			rawNames[key] = g.Name
		}
	}
	index(groupsA, idx.aByName)
	index(groupsB, idx.bByName)

	if options.DryRun {
		return idx, nil
	}

	create := func(missing map[string]string, have map[string]string, dst accounts.Account) error {
		names := make([]string, 0, len(have))
		for name := range have {
			if _, ok := missing[name]; !ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		for _, name := range names {
			id, err := dst.CreateGroup(ctx, rawNames[name])
			if err != nil {
				if errors.IsAuthorization(err) {
					return err
				}
				logger.Warn().
					Err(err).
					Str("account", dst.Name()).
					Str("group", rawNames[name]).
					Msg("Failed to create group")
				continue
			}
			idx.nameByID[id] = name
			missing[name] = id
			logger.Info().
				Str("account", dst.Name()).
				Str("group", rawNames[name]).
				Str("id", id).
				Msg("Created group")
		}
		return nil
	}

	if err := create(idx.bByName, idx.aByName, d.accountB); err != nil {
		return nil, err
	}
	if err := create(idx.aByName, idx.bByName, d.accountA); err != nil {
		return nil, err
	}

	// record correspondences for every shared name
	names := make([]string, 0, len(idx.aByName))
	for name := range idx.aByName {
		if _, ok := idx.bByName[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	err = d.store.Transact(ctx, func(tx state.Store) error {
		for _, name := range names {
			gm := state.GroupMapping{
				Name:       name,
				AccountAID: idx.aByName[name],
				AccountBID: idx.bByName[name],
			}
			if err := tx.PutGroupMapping(ctx, gm); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return idx, nil
}
