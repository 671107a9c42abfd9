// Package sync implements the reconciliation engine: it pulls group and
// user records from the directory, diffs each against local store state
// and applies the minimal set of create/update mutations, accumulating a
// report of everything it did.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	goldap "github.com/go-ldap/ldap/v3"
	"github.com/sirupsen/logrus"

	"github.com/isometry/ldapsync/internal/ldap"
	"github.com/isometry/ldapsync/internal/mapper"
	"github.com/isometry/ldapsync/internal/store"
)

// Directory is the session surface the engine needs from the connector.
type Directory interface {
	SearchPaged(ctx context.Context, req *ldap.SearchRequest, pageSize uint32, fn func(*goldap.Entry) error) (*ldap.SearchStats, error)
	Close()
}

// DialFunc opens a directory session. The engine dials once per run,
// scopes the session to the fetch phase and releases it unconditionally
// when fetching completes or fails.
type DialFunc func(ctx context.Context) (Directory, error)

// Options configures one engine's searches.
type Options struct {
	BaseDN      string `mapstructure:"base_dn"`
	GroupBaseDN string `mapstructure:"group_base_dn"` // config defaults this to ou=Groups,<base_dn>; empty falls back to BaseDN
	UserFilter  string `mapstructure:"user_filter" default:"(&(objectCategory=person)(objectClass=user))"`
	GroupFilter string `mapstructure:"group_filter" default:"(objectClass=posixGroup)"`
	PageSize    uint32 `mapstructure:"page_size" default:"100"`
}

// ApplyDefaults fills unset fields with their default values.
func (o *Options) ApplyDefaults() error {
	return defaults.Set(o)
}

// Engine reconciles directory state into the local store, one run at a
// time. Runs are strictly sequential: fetch groups, fetch users, sync
// groups, sync users, resolve membership.
type Engine struct {
	dial   DialFunc
	mapper *mapper.Mapper
	store  store.Adapter
	opts   Options
	log    *logrus.Entry
}

// New creates an engine.
func New(dial DialFunc, m *mapper.Mapper, adapter store.Adapter, opts Options, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Engine{
		dial:   dial,
		mapper: m,
		store:  adapter,
		opts:   opts,
		log:    log,
	}
}

// Run executes one full synchronization. A report is always returned; the
// error is non-nil only when the fetch phase failed, in which case no
// local mutation was attempted and the report status is failed. Failures
// on individual records during the sync phases are recorded in the report
// and never abort the run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := newReport()
	log := e.log.WithField("run_id", report.RunID)

	groups, users, err := e.fetch(ctx, report, log)
	if err != nil {
		report.finish(StatusFailed)
		return report, err
	}

	log.WithFields(logrus.Fields{
		"groups": len(groups),
		"users":  len(users),
	}).Info("directory fetch complete, synchronizing")

	e.syncGroups(ctx, report, log, groups)
	e.syncUsers(ctx, report, log, users)
	e.resolveMembership(ctx, report, log, groups)

	report.finish(StatusSucceeded)
	log.WithFields(report.Summary()).Info("synchronization complete")

	return report, nil
}

// fetch pulls all group records, then all user records, over a single
// directory session. Any connector failure aborts the run before local
// mutations begin; records already fetched are discarded with it.
func (e *Engine) fetch(ctx context.Context, report *Report, log *logrus.Entry) ([]mapper.NormalizedGroup, []mapper.NormalizedUser, error) {
	dir, err := e.dial(ctx)
	if err != nil {
		e.record(report, log, Event{
			Severity: SeverityError,
			Kind:     KindDirectory,
			Action:   ActionConnectionError,
			Detail:   err.Error(),
		})
		return nil, nil, err
	}
	defer dir.Close()

	groupBase := e.opts.GroupBaseDN
	if groupBase == "" {
		groupBase = e.opts.BaseDN
	}

	var groups []mapper.NormalizedGroup
	gstats, err := dir.SearchPaged(ctx, &ldap.SearchRequest{
		BaseDN:     groupBase,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     e.opts.GroupFilter,
		Attributes: e.mapper.GroupAttributes(),
	}, e.opts.PageSize, func(entry *goldap.Entry) error {
		group, ok := e.mapper.MapGroup(entry)
		if !ok {
			report.SkippedGroups++
			return nil
		}
		groups = append(groups, group)
		return nil
	})
	if err != nil {
		e.record(report, log, Event{
			Severity: SeverityError,
			Kind:     KindDirectory,
			Action:   ActionConnectionError,
			Detail:   fmt.Sprintf("group fetch: %v", err),
		})
		return nil, nil, err
	}
	e.recordDegraded(report, log, "group", gstats)

	var users []mapper.NormalizedUser
	ustats, err := dir.SearchPaged(ctx, &ldap.SearchRequest{
		BaseDN:     e.opts.BaseDN,
		Scope:      ldap.ScopeWholeSubtree,
		Filter:     e.opts.UserFilter,
		Attributes: e.mapper.UserAttributes(),
	}, e.opts.PageSize, func(entry *goldap.Entry) error {
		user, ok := e.mapper.MapUser(entry)
		if !ok {
			report.SkippedUsers++
			return nil
		}
		users = append(users, user)
		return nil
	})
	if err != nil {
		e.record(report, log, Event{
			Severity: SeverityError,
			Kind:     KindDirectory,
			Action:   ActionConnectionError,
			Detail:   fmt.Sprintf("user fetch: %v", err),
		})
		return nil, nil, err
	}
	e.recordDegraded(report, log, "user", ustats)

	return groups, users, nil
}

// syncGroups creates groups missing locally. Existing groups are left
// untouched: group synchronization is existence-only.
func (e *Engine) syncGroups(ctx context.Context, report *Report, log *logrus.Entry, groups []mapper.NormalizedGroup) {
	log.WithField("count", len(groups)).Info("synchronizing groups")

	for _, group := range groups {
		_, err := e.store.FindGroupByName(ctx, group.Name)
		switch {
		case err == nil:
			e.record(report, log, Event{
				Severity: SeverityInfo,
				Kind:     KindGroup,
				Key:      group.Name,
				Action:   ActionUnchanged,
			})

		case errors.Is(err, store.ErrNotFound):
			if err := e.store.CreateGroup(ctx, &store.Group{Name: group.Name}); err != nil {
				e.record(report, log, Event{
					Severity: SeverityWarning,
					Kind:     KindGroup,
					Key:      group.Name,
					Action:   ActionStoreError,
					Detail:   err.Error(),
				})
				continue
			}
			e.record(report, log, Event{
				Severity: SeverityInfo,
				Kind:     KindGroup,
				Key:      group.Name,
				Action:   ActionCreated,
			})

		default:
			e.record(report, log, Event{
				Severity: SeverityWarning,
				Kind:     KindGroup,
				Key:      group.Name,
				Action:   ActionStoreError,
				Detail:   err.Error(),
			})
		}
	}
}

// syncUsers creates or field-level-updates each user in directory yield
// order. Later duplicates overwrite earlier ones. A user's profile is only
// touched after its user row persisted successfully.
func (e *Engine) syncUsers(ctx context.Context, report *Report, log *logrus.Entry, users []mapper.NormalizedUser) {
	log.WithField("count", len(users)).Info("synchronizing users")

	for _, user := range users {
		local, err := e.syncUserRecord(ctx, report, log, user)
		if err != nil || local == nil {
			continue
		}
		e.syncProfile(ctx, report, log, user, local)
	}
}

// syncUserRecord reconciles one user row. Returns the persisted local
// user, or nil when the record failed and the profile must not be touched.
func (e *Engine) syncUserRecord(ctx context.Context, report *Report, log *logrus.Entry, user mapper.NormalizedUser) (*store.User, error) {
	local, err := e.store.FindUserByUsername(ctx, user.Username)

	switch {
	case errors.Is(err, store.ErrNotFound):
		local = &store.User{
			Username:  user.Username,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Email:     user.Email,
		}
		if err := e.store.CreateUser(ctx, local); err != nil {
			e.record(report, log, Event{
				Severity: SeverityWarning,
				Kind:     KindUser,
				Key:      user.Username,
				Action:   ActionStoreError,
				Detail:   err.Error(),
			})
			return nil, err
		}
		e.record(report, log, Event{
			Severity: SeverityInfo,
			Kind:     KindUser,
			Key:      user.Username,
			Action:   ActionCreated,
		})
		return local, nil

	case err != nil:
		e.record(report, log, Event{
			Severity: SeverityWarning,
			Kind:     KindUser,
			Key:      user.Username,
			Action:   ActionStoreError,
			Detail:   err.Error(),
		})
		return nil, err
	}

	// Field-level diff: only mismatched fields are written, so re-running
	// with unchanged directory data produces zero writes.
	var updated []string
	if local.FirstName != user.FirstName {
		local.FirstName = user.FirstName
		updated = append(updated, "firstName")
	}
	if local.LastName != user.LastName {
		local.LastName = user.LastName
		updated = append(updated, "lastName")
	}
	if local.Email != user.Email {
		local.Email = user.Email
		updated = append(updated, "email")
	}

	if len(updated) == 0 {
		return local, nil
	}

	if err := e.store.SaveUser(ctx, local); err != nil {
		e.record(report, log, Event{
			Severity: SeverityWarning,
			Kind:     KindUser,
			Key:      user.Username,
			Action:   ActionStoreError,
			Detail:   err.Error(),
		})
		return nil, err
	}

	for _, field := range updated {
		e.record(report, log, Event{
			Severity: SeverityInfo,
			Kind:     KindUser,
			Key:      user.Username,
			Action:   ActionFieldUpdated,
			Detail:   field,
		})
	}

	return local, nil
}

// syncProfile reconciles the user's profile external id. A uniqueness
// conflict is caught at single-user granularity and never blocks the
// remaining users.
func (e *Engine) syncProfile(ctx context.Context, report *Report, log *logrus.Entry, user mapper.NormalizedUser, local *store.User) {
	profile, found, err := e.store.GetOrInitProfile(ctx, local)
	if err != nil {
		e.record(report, log, Event{
			Severity: SeverityWarning,
			Kind:     KindProfile,
			Key:      user.Username,
			Action:   ActionStoreError,
			Detail:   err.Error(),
		})
		return
	}

	action := ActionProfileCreated
	if found {
		if profile.ExternalID == user.ExternalID {
			return
		}
		action = ActionProfileFieldUpdated
	}

	profile.ExternalID = user.ExternalID
	if err := e.store.SaveProfile(ctx, profile); err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			e.record(report, log, Event{
				Severity: SeverityWarning,
				Kind:     KindProfile,
				Key:      user.Username,
				Action:   ActionConflict,
				Detail:   fmt.Sprintf("duplicate external id %q for user %q", conflict.ExternalID, user.Username),
			})
			return
		}
		e.record(report, log, Event{
			Severity: SeverityWarning,
			Kind:     KindProfile,
			Key:      user.Username,
			Action:   ActionStoreError,
			Detail:   err.Error(),
		})
		return
	}

	e.record(report, log, Event{
		Severity: SeverityInfo,
		Kind:     KindProfile,
		Key:      user.Username,
		Action:   action,
	})
}

// resolveMembership checks, after users exist, which group member
// identifiers resolve to local users. Resolution is report-only: group
// membership is never written back to the store.
func (e *Engine) resolveMembership(ctx context.Context, report *Report, log *logrus.Entry, groups []mapper.NormalizedGroup) {
	for _, group := range groups {
		if len(group.MemberUsernames) == 0 {
			continue
		}

		var unresolved []string
		for _, member := range group.MemberUsernames {
			if _, err := e.store.FindUserByUsername(ctx, member); err != nil {
				unresolved = append(unresolved, member)
			}
		}

		if len(unresolved) == 0 {
			log.WithFields(logrus.Fields{
				"group":   group.Name,
				"members": len(group.MemberUsernames),
			}).Debug("all group members resolved")
			continue
		}

		e.record(report, log, Event{
			Severity: SeverityWarning,
			Kind:     KindGroup,
			Key:      group.Name,
			Action:   ActionMembersUnresolved,
			Detail:   strings.Join(unresolved, ","),
		})
	}
}

func (e *Engine) recordDegraded(report *Report, log *logrus.Entry, search string, stats *ldap.SearchStats) {
	if stats == nil || stats.Paged {
		return
	}
	e.record(report, log, Event{
		Severity: SeverityWarning,
		Kind:     KindDirectory,
		Action:   ActionProtocolWarning,
		Detail:   fmt.Sprintf("server ignores RFC 2696 paging control, %s search degraded to a single page", search),
	})
}

// record appends an event to the report and logs it at a level matching
// its severity.
func (e *Engine) record(report *Report, log *logrus.Entry, ev Event) {
	report.append(ev)

	entry := log.WithFields(logrus.Fields{
		"kind":   string(ev.Kind),
		"key":    ev.Key,
		"action": string(ev.Action),
	})
	if ev.Detail != "" {
		entry = entry.WithField("detail", ev.Detail)
	}

	switch ev.Severity {
	case SeverityError:
		entry.Error("sync event")
	case SeverityWarning:
		entry.Warn("sync event")
	default:
		entry.Debug("sync event")
	}
}
