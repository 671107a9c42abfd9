package ldap

import (
	"context"

	"github.com/go-ldap/ldap/v3"
	"github.com/sirupsen/logrus"
)

// SearchPaged runs a paged search (RFC 2696) and streams every entry to fn
// in server order. The same base, scope and filter are resubmitted with the
// prior continuation cookie until the server returns an empty cookie.
//
// If the server ignores the paging control, the single page already
// received is still delivered and the returned stats have Paged == false;
// the caller decides how loudly to complain. Any protocol error mid-sequence
// fails the whole search with a ConnectionError. Entries already delivered
// to fn are not retracted.
func (c *Conn) SearchPaged(ctx context.Context, req *SearchRequest, pageSize uint32, fn func(*ldap.Entry) error) (*SearchStats, error) {
	if req == nil {
		return nil, NewConnectionError("search request cannot be nil", false, nil)
	}
	if pageSize == 0 {
		pageSize = 100
	}

	stats := &SearchStats{Paged: true}
	paging := ldap.NewControlPaging(pageSize)

	log := c.log.WithFields(logrus.Fields{
		"base_dn": req.BaseDN,
		"scope":   req.Scope.String(),
		"filter":  req.Filter,
	})
	log.Debug("starting paged search")

	for {
		select {
		case <-ctx.Done():
			return stats, NewConnectionError("paged search cancelled", false, ctx.Err())
		default:
		}

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			ldap.NeverDerefAliases,
			0, // no size limit when paging
			int(c.cfg.Timeout.Seconds()),
			false,
			req.Filter,
			req.Attributes,
			[]ldap.Control{paging},
		)

		result, err := c.conn.Search(ldapReq)
		if err != nil {
			log.WithField("page", stats.Pages+1).WithError(err).Error("paged search failed")
			return stats, NewConnectionError("paged search failed", false, NewDirectoryError("search", err))
		}

		stats.Pages++

		for _, entry := range result.Entries {
			if err := fn(entry); err != nil {
				return stats, err
			}
			stats.Entries++
		}

		log.WithFields(logrus.Fields{
			"page":            stats.Pages,
			"entries_in_page": len(result.Entries),
			"total_entries":   stats.Entries,
		}).Debug("completed search page")

		control := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		response, ok := control.(*ldap.ControlPaging)
		if !ok {
			// Server ignores RFC 2696; yield what we have and degrade.
			stats.Paged = false
			log.Warn("server ignores RFC 2696 paging control, returning single page")
			break
		}

		if len(response.Cookie) == 0 {
			break
		}
		paging.SetCookie(response.Cookie)
	}

	log.WithFields(logrus.Fields{
		"pages":   stats.Pages,
		"entries": stats.Entries,
		"paged":   stats.Paged,
	}).Debug("paged search complete")

	return stats, nil
}
