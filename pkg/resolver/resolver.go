package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/confidence"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/config"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/devicestore"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/identityheader"
)

// Hints is everything the caller knows about an inbound request
type Hints struct {
	// OpaqueBrowserToken is the browser-scoped token presented by the
	// client, if any
	OpaqueBrowserToken string
	// IdentityHeader is the raw cross-browser identity header JWT, if any
	IdentityHeader string
	// SessionOwner is the current or prior-logout identity context, if any
	SessionOwner *devicestore.OwnerIdentity
	// InboundSnapshot is the fingerprint captured for this request, if any
	InboundSnapshot *fingerprint.Snapshot
	// RequestIP and UserAgent describe the client
	RequestIP string
	UserAgent string
}

// Status is the terminal state of one resolution
type Status string

const (
	StatusAuthenticated        Status = "authenticated"
	StatusPinOffered           Status = "pin_offered"
	StatusVerificationRequired Status = "verification_required"
	StatusNoMatch              Status = "no_match"
	StatusNeedsRegistration    Status = "needs_registration"
)

// Detail values for decisions that need a machine-readable reason
const (
	DetailTimeout          = "TIMEOUT"
	DetailSecurityBoundary = "SECURITY_BOUNDARY"
)

// Decision is the outcome of resolving one request
type Decision struct {
	Status          Status
	MatchedDeviceID string
	MatchType       confidence.MatchType
	Score           int
	Level           confidence.Level
	PinAvailable    bool
	Detail          string
}

// OwnerInfo is what the external identity store knows about an owner
type OwnerInfo struct {
	Handle string
	GUID   string
	Phone  string
	HasPin bool
}

// OwnerLookup resolves owner identities against the external identity
// store; the resolver only needs it to learn whether a PIN is configured
type OwnerLookup interface {
	LookupOwner(ctx context.Context, handle string) (OwnerInfo, error)
}

// Resolver locates the device behind an inbound request and decides how to
// authenticate it
type Resolver struct {
	store        *devicestore.StoreService
	codec        *identityheader.Codec
	owners       OwnerLookup
	timeout      time.Duration
	recentWindow time.Duration
}

// NewResolver creates a resolver. The owner lookup may be nil, in which
// case no identity is assumed to have a PIN.
func NewResolver(store *devicestore.StoreService, codec *identityheader.Codec, owners OwnerLookup, cfg config.ResolverConfig) *Resolver {
	return &Resolver{
		store:        store,
		codec:        codec,
		owners:       owners,
		timeout:      cfg.ResolveTimeout,
		recentWindow: cfg.RecentVerificationWindow,
	}
}

// candidate is an internal match before scoring
type candidate struct {
	set       devicestore.RecordSet
	matchType confidence.MatchType
}

// Resolve walks the hint priority chain and returns a decision. Hints are
// tried strongest first: identity header, then exact opaque token, then
// session owner context; the first hit wins and weaker hints are not
// consulted. An exhausted chain yields NeedsRegistration.
//
// Resolution runs under a deadline. A context expiring mid-scan resolves
// toward the stronger verification path and skips every write.
func (r *Resolver) Resolve(ctx context.Context, hints Hints) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cand, decision, found := r.findCandidate(ctx, hints)
	if ctx.Err() != nil {
		return Decision{Status: StatusVerificationRequired, Detail: DetailTimeout}, nil
	}
	if decision != nil {
		return *decision, nil
	}
	if !found {
		return Decision{Status: StatusNeedsRegistration}, nil
	}

	return r.decide(ctx, hints, cand)
}

// findCandidate returns either a candidate, or a terminal decision (a
// security rejection), or neither when the chain is exhausted
func (r *Resolver) findCandidate(ctx context.Context, hints Hints) (candidate, *Decision, bool) {
	if hints.IdentityHeader != "" {
		cand, decision, found := r.resolveIdentityHeader(ctx, hints)
		if decision != nil || found {
			return cand, decision, found
		}
	}

	if hints.OpaqueBrowserToken != "" {
		if cand, found := r.resolveOpaqueToken(ctx, hints.OpaqueBrowserToken); found {
			return cand, nil, true
		}
	}

	if hints.SessionOwner != nil {
		if cand, found := r.resolveOwnerContext(ctx, *hints.SessionOwner); found {
			return cand, nil, true
		}
	}

	return candidate{}, nil, false
}

// resolveIdentityHeader handles the strongest hint. A header with a device
// id resolves directly, guarded by the owner boundary check; a
// characteristics-only header falls back to snapshot matching inside the
// requester's known owner context.
func (r *Resolver) resolveIdentityHeader(ctx context.Context, hints Hints) (candidate, *Decision, bool) {
	header, err := r.codec.Decode(hints.IdentityHeader)
	if err != nil {
		slog.Warn("ignoring unusable identity header", "error", err)
		return candidate{}, nil, false
	}

	if header.DeviceID != "" {
		set, err := r.store.GetDevice(ctx, header.DeviceID)
		if err != nil {
			if !errors.IsCode(err, errors.ErrCodeNotFound) {
				slog.Error("identity header device lookup failed", "error", err)
			}
			return candidate{}, nil, false
		}

		if boundaryViolated(header, set.Record.Owner) {
			// a stored record exists but the header claims a different
			// owner; reveal nothing about the stored identity
			slog.Warn("identity header rejected at security boundary",
				"deviceID", header.DeviceID)
			return candidate{}, &Decision{Status: StatusNoMatch, Detail: DetailSecurityBoundary}, false
		}

		return candidate{set: set, matchType: confidence.MatchCrossBrowserHeader}, nil, true
	}

	// characteristics only: match snapshots, but never outside an owner
	// context the requester already holds
	owner := ownerContextFor(header, hints.SessionOwner)
	if owner == nil || header.Characteristics == nil {
		return candidate{}, nil, false
	}
	if cand, found := r.matchByCharacteristics(ctx, *owner, *header.Characteristics); found {
		return cand, nil, true
	}
	return candidate{}, nil, false
}

// boundaryViolated reports whether a header's owner claims contradict the
// stored binding
func boundaryViolated(header identityheader.Header, stored devicestore.OwnerIdentity) bool {
	if header.OwnerGUID != "" && stored.GUID != "" && header.OwnerGUID != stored.GUID {
		return true
	}
	if header.OwnerHandle != "" && stored.Handle != "" && header.OwnerHandle != stored.Handle {
		return true
	}
	return false
}

// ownerContextFor picks the owner scope a characteristics-only header may
// search: the header's own owner claims, or the session's
func ownerContextFor(header identityheader.Header, session *devicestore.OwnerIdentity) *devicestore.OwnerRef {
	switch {
	case header.OwnerGUID != "":
		ref := devicestore.ByGUID(header.OwnerGUID)
		return &ref
	case header.OwnerHandle != "":
		ref := devicestore.ByHandle(header.OwnerHandle)
		return &ref
	case session != nil:
		return sessionOwnerRef(*session)
	default:
		return nil
	}
}

func sessionOwnerRef(owner devicestore.OwnerIdentity) *devicestore.OwnerRef {
	switch {
	case owner.Handle != "":
		ref := devicestore.ByHandle(owner.Handle)
		return &ref
	case owner.GUID != "":
		ref := devicestore.ByGUID(owner.GUID)
		return &ref
	case owner.Phone != "":
		ref := devicestore.ByPhone(owner.Phone)
		return &ref
	default:
		return nil
	}
}

// matchByCharacteristics scans the owner's devices for a stored snapshot
// the comparator accepts as the same physical device, keeping the
// best-scoring one
func (r *Resolver) matchByCharacteristics(ctx context.Context, ref devicestore.OwnerRef, snap fingerprint.Snapshot) (candidate, bool) {
	sets, err := r.store.FindDevicesByOwner(ctx, ref)
	if err != nil {
		slog.Error("owner scan failed during characteristics match", "error", err)
		return candidate{}, false
	}

	var best *devicestore.RecordSet
	bestScore := -1
	for i := range sets {
		if ctx.Err() != nil {
			return candidate{}, false
		}
		if sets[i].Snapshot == nil {
			continue
		}
		res := fingerprint.Compare(*sets[i].Snapshot, snap)
		if res.SameDevice && res.Score > bestScore {
			best = &sets[i]
			bestScore = res.Score
		}
	}
	if best == nil {
		return candidate{}, false
	}
	return candidate{set: *best, matchType: confidence.MatchOwnerFallback}, true
}

// resolveOpaqueToken finds the device holding the given browser token. The
// legacy form where the token is the device id itself resolves directly;
// otherwise every record set is scanned for a matching association.
// Unreadable candidates are skipped.
func (r *Resolver) resolveOpaqueToken(ctx context.Context, token string) (candidate, bool) {
	if devicestore.ValidateDeviceID(token) == nil {
		set, err := r.store.GetDevice(ctx, token)
		if err == nil {
			return candidate{set: set, matchType: confidence.MatchExactToken}, true
		}
		if !errors.IsCode(err, errors.ErrCodeNotFound) {
			slog.Error("opaque token device lookup failed", "error", err)
		}
	}

	ids, err := r.store.Repository().ListDeviceIDs(ctx)
	if err != nil {
		slog.Error("device listing failed during token scan", "error", err)
		return candidate{}, false
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return candidate{}, false
		}
		set, err := r.store.GetDevice(ctx, id)
		if err != nil {
			slog.Error("skipping unreadable device in token scan", "deviceID", id, "error", err)
			continue
		}
		if set.FindBrowser(token) != nil {
			return candidate{set: set, matchType: confidence.MatchExactToken}, true
		}
	}
	return candidate{}, false
}

// resolveOwnerContext picks the owner's most recently verified device
func (r *Resolver) resolveOwnerContext(ctx context.Context, owner devicestore.OwnerIdentity) (candidate, bool) {
	ref := sessionOwnerRef(owner)
	if ref == nil {
		return candidate{}, false
	}

	sets, err := r.store.FindDevicesByOwner(ctx, *ref)
	if err != nil {
		slog.Error("owner scan failed", "error", err)
		return candidate{}, false
	}

	var best *devicestore.RecordSet
	for i := range sets {
		if best == nil || sets[i].Record.LastVerifiedAt.After(best.Record.LastVerifiedAt) {
			best = &sets[i]
		}
	}
	if best == nil {
		return candidate{}, false
	}
	return candidate{set: *best, matchType: confidence.MatchOwnerFallback}, true
}

// decide scores the candidate, maps the score to a status and registers
// the inbound opaque token
func (r *Resolver) decide(ctx context.Context, hints Hints, cand candidate) (Decision, error) {
	veto := false
	if hints.InboundSnapshot != nil && cand.set.Snapshot != nil {
		res := fingerprint.Compare(*cand.set.Snapshot, *hints.InboundSnapshot)
		veto = res.ComparablePairs > 0 && !res.SameDevice
	}

	eval := confidence.Score(cand.matchType, &cand.set, confidence.Context{
		RequestIP:       hints.RequestIP,
		InboundSnapshot: hints.InboundSnapshot,
		FingerprintVeto: veto,
		RecentWindow:    r.recentWindow,
	})

	pinAvailable := r.pinAvailable(ctx, cand.set.Record.Owner)
	outcome := confidence.Decide(eval, cand.matchType, pinAvailable)

	if ctx.Err() != nil {
		return Decision{Status: StatusVerificationRequired, Detail: DetailTimeout}, nil
	}

	decision := Decision{
		MatchedDeviceID: cand.set.Record.DeviceID,
		MatchType:       cand.matchType,
		Score:           eval.Score,
		Level:           eval.Level,
		PinAvailable:    pinAvailable,
	}
	switch outcome {
	case confidence.OutcomeAuthenticated:
		decision.Status = StatusAuthenticated
	case confidence.OutcomePinOffered:
		decision.Status = StatusPinOffered
	default:
		decision.Status = StatusVerificationRequired
	}

	r.registerBrowserToken(ctx, hints, decision)

	if decision.Status == StatusAuthenticated {
		if _, err := r.store.RefreshVerification(ctx, decision.MatchedDeviceID); err != nil {
			slog.Error("failed to refresh verification time", "deviceID", decision.MatchedDeviceID, "error", err)
		}
	}

	return decision, nil
}

// registerBrowserToken records a newly seen opaque token against the
// matched device, pending unless the resolution auto-authenticated
func (r *Resolver) registerBrowserToken(ctx context.Context, hints Hints, decision Decision) {
	token := hints.OpaqueBrowserToken
	if token == "" || token == decision.MatchedDeviceID {
		return
	}
	pending := decision.Status != StatusAuthenticated
	if _, err := r.store.AddBrowser(ctx, decision.MatchedDeviceID, token, hints.UserAgent, pending); err != nil {
		slog.Error("failed to register browser token", "deviceID", decision.MatchedDeviceID, "error", err)
	}
}

func (r *Resolver) pinAvailable(ctx context.Context, owner devicestore.OwnerIdentity) bool {
	if r.owners == nil || owner.Handle == "" {
		return false
	}
	info, err := r.owners.LookupOwner(ctx, owner.Handle)
	if err != nil {
		slog.Warn("owner lookup failed, assuming no pin", "handle", owner.Handle, "error", err)
		return false
	}
	return info.HasPin
}
