package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/ros-tooling/ci-for-pr/pkg/ci"
)

// MembershipChecker reports organization membership of the authenticated user.
type MembershipChecker interface {
	IsActiveOrgMember(ctx context.Context, org string) (bool, error)
}

// OrgAuthorizer allows triggering CI for active members of any of Orgs.
type OrgAuthorizer struct {
	Members MembershipChecker
	Orgs    []string
}

var _ ci.Authorizer = (*OrgAuthorizer)(nil)

// Authorize succeeds on the first organization with an active membership.
func (a *OrgAuthorizer) Authorize(ctx context.Context) error {
	if len(a.Orgs) == 0 {
		return errors.New("no organizations configured to authorize CI")
	}

	var errs error
	for _, org := range a.Orgs {
		ok, err := a.Members.IsActiveOrgMember(ctx, org)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			return nil
		}
	}

	err := fmt.Errorf("not an active member of %s", strings.Join(a.Orgs, ", "))
	if errs != nil {
		return multierr.Append(err, errs)
	}
	return err
}
