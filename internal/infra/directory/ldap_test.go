package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/dispense-auth/internal/core/domain"
)

const userDN = "CN=Ann Lee,OU=Nursing,DC=corp,DC=example,DC=org"

type fakeConn struct {
	passwords   map[string]string
	bindErrs    map[string]error
	users       []*ldap.Entry
	searchErr   error
	root        *ldap.Entry
	modifyErr   error
	modified    *ldap.PasswordModifyRequest
	binds       []string
	timeout     time.Duration
	closed      bool
	lastFilters []string
	// anonymous mirrors a server session after a failed bind: reads are refused.
	anonymous bool
}

func (f *fakeConn) Bind(username, password string) error {
	f.binds = append(f.binds, username)
	if err, ok := f.bindErrs[username]; ok {
		f.anonymous = true
		return err
	}
	if expected, ok := f.passwords[username]; ok && expected == password {
		f.anonymous = false
		return nil
	}
	f.anonymous = true
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("80090308: LdapErr: DSID-0C09042A, comment: AcceptSecurityContext error, data 52e, v3839"))
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.lastFilters = append(f.lastFilters, req.Filter)
	if f.anonymous {
		return nil, ldap.NewError(ldap.LDAPResultOperationsError, errors.New("000004DC: LdapErr: DSID-0C090A5C, comment: In order to perform this operation a successful bind must be completed on the connection"))
	}
	if req.Scope == ldap.ScopeBaseObject {
		if f.root == nil {
			return &ldap.SearchResult{}, nil
		}
		return &ldap.SearchResult{Entries: []*ldap.Entry{f.root}}, nil
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &ldap.SearchResult{Entries: f.users}, nil
}

func (f *fakeConn) PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error) {
	f.modified = req
	if f.modifyErr != nil {
		return nil, f.modifyErr
	}
	return &ldap.PasswordModifyResult{}, nil
}

func (f *fakeConn) SetTimeout(timeout time.Duration) { f.timeout = timeout }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func userEntryWith(attrs map[string][]string) *ldap.Entry {
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return ldap.NewEntry(userDN, attrs)
}

func newTestClient(t *testing.T, conn *fakeConn, dialErr error) (*LDAPClient, *string) {
	t.Helper()

	var dialedURL string
	dial := func(_ context.Context, url string, _ *tls.Config, _ time.Duration) (Conn, error) {
		dialedURL = url
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}

	client, err := NewLDAPClient(LDAPConfig{
		Domain: domain.DirectoryDomain{
			FQDN:          "corp.example.org",
			SystemAccount: "svc-dispense",
			UseTLS:        true,
		},
		SystemPassword: "system-secret",
		Timeout:        2 * time.Second,
	}, dial, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLDAPClient returned error: %v", err)
	}
	return client, &dialedURL
}

func baseConn() *fakeConn {
	return &fakeConn{
		passwords: map[string]string{
			"svc-dispense": "system-secret",
			userDN:         "correct-horse",
		},
		bindErrs: map[string]error{},
		users:    []*ldap.Entry{userEntryWith(nil)},
		root: ldap.NewEntry("DC=corp,DC=example,DC=org", map[string][]string{
			"minPwdLength":     {"12"},
			"pwdProperties":    {"1"},
			"pwdHistoryLength": {"24"},
			"maxPwdAge":        {"-36288000000000"},
			"lockoutThreshold": {"5"},
		}),
	}
}

func TestBaseDN(t *testing.T) {
	if got := BaseDN("corp.example.org."); got != "DC=corp,DC=example,DC=org" {
		t.Fatalf("unexpected base dn %q", got)
	}
}

func TestLDAPClient_AuthenticateSuccess(t *testing.T) {
	conn := baseConn()
	client, dialed := newTestClient(t, conn, nil)

	status, err := client.Authenticate(context.Background(), "ann.lee", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if status != domain.DirectorySuccess {
		t.Fatalf("expected success, got %s", status)
	}
	if *dialed != "ldaps://corp.example.org:636" {
		t.Fatalf("unexpected url %q", *dialed)
	}
	if !conn.closed {
		t.Fatalf("expected connection to be closed")
	}
	if conn.timeout != 2*time.Second {
		t.Fatalf("expected timeout applied, got %v", conn.timeout)
	}
	if conn.lastFilters[0] != "(&(objectCategory=person)(objectClass=user)(sAMAccountName=ann.lee))" {
		t.Fatalf("unexpected filter %q", conn.lastFilters[0])
	}
}

func TestLDAPClient_AuthenticateEscapesFilter(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	if _, err := client.Authenticate(context.Background(), "ann*)(uid=*", "x"); err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if conn.lastFilters[0] != `(&(objectCategory=person)(objectClass=user)(sAMAccountName=ann\2a\29\28uid=\2a))` {
		t.Fatalf("filter not escaped: %q", conn.lastFilters[0])
	}
}

func TestLDAPClient_AuthenticateWrongPassword(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	status, err := client.Authenticate(context.Background(), "ann.lee", "wrong")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if status != domain.DirectoryFailed {
		t.Fatalf("expected failed, got %s", status)
	}
}

func TestLDAPClient_AuthenticateLastAttemptWarning(t *testing.T) {
	conn := baseConn()
	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"badPwdCount": {"3"}})}
	client, _ := newTestClient(t, conn, nil)

	status, err := client.Authenticate(context.Background(), "ann.lee", "wrong")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if status != domain.DirectoryLastAttemptWarning {
		t.Fatalf("expected last attempt warning, got %s", status)
	}
}

func TestLDAPClient_AuthenticateEmptyPasswordNeverBinds(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	status, err := client.Authenticate(context.Background(), "ann.lee", "")
	if err != nil || status != domain.DirectoryFailed {
		t.Fatalf("expected failed without error, got %s %v", status, err)
	}
	if len(conn.binds) != 0 {
		t.Fatalf("expected no bind, got %v", conn.binds)
	}
}

func TestLDAPClient_AuthenticateSubCodes(t *testing.T) {
	cases := map[string]domain.DirectoryStatus{
		"525": domain.DirectoryNotFound,
		"532": domain.DirectoryExpired,
		"533": domain.DirectoryDisabled,
		"701": domain.DirectoryAccountExpired,
		"773": domain.DirectoryMustChange,
		"775": domain.DirectoryLocked,
	}
	for code, expected := range cases {
		t.Run(code, func(t *testing.T) {
			conn := baseConn()
			conn.bindErrs[userDN] = ldap.NewError(ldap.LDAPResultInvalidCredentials,
				errors.New("80090308: LdapErr: DSID-0C09042A, comment: AcceptSecurityContext error, data "+code+", v3839"))
			client, _ := newTestClient(t, conn, nil)

			status, err := client.Authenticate(context.Background(), "ann.lee", "correct-horse")
			if err != nil {
				t.Fatalf("Authenticate returned error: %v", err)
			}
			if status != expected {
				t.Fatalf("expected %s, got %s", expected, status)
			}
		})
	}
}

func TestLDAPClient_AuthenticateUserLookup(t *testing.T) {
	conn := baseConn()
	conn.users = nil
	client, _ := newTestClient(t, conn, nil)

	status, _ := client.Authenticate(context.Background(), "ghost", "x")
	if status != domain.DirectoryNotFound {
		t.Fatalf("expected not found, got %s", status)
	}

	conn.users = []*ldap.Entry{userEntryWith(nil), userEntryWith(nil)}
	status, _ = client.Authenticate(context.Background(), "dup", "x")
	if status != domain.DirectoryMultipleMatches {
		t.Fatalf("expected multiple matches, got %s", status)
	}
}

func TestLDAPClient_TransportFailures(t *testing.T) {
	client, _ := newTestClient(t, nil, ldap.NewError(ldap.ErrorNetwork, errors.New("dial tcp: connection refused")))
	status, err := client.Authenticate(context.Background(), "ann.lee", "x")
	if err != nil || status != domain.DirectoryUnreachable {
		t.Fatalf("expected unreachable, got %s %v", status, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	client, _ = newTestClient(t, baseConn(), nil)
	status, _ = client.Authenticate(ctx, "ann.lee", "x")
	if status != domain.DirectoryTimedOut {
		t.Fatalf("expected timed out on expired context, got %s", status)
	}
}

func TestLDAPClient_SystemBindFailure(t *testing.T) {
	conn := baseConn()
	conn.passwords["svc-dispense"] = "rotated"
	client, _ := newTestClient(t, conn, nil)

	status, _ := client.Authenticate(context.Background(), "ann.lee", "correct-horse")
	if status != domain.DirectoryError {
		t.Fatalf("expected directory error, got %s", status)
	}
	if !conn.closed {
		t.Fatalf("expected connection to be closed after failed bind")
	}
}

func TestLDAPClient_VerifyUser(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	status, err := client.VerifyUser(context.Background(), "ann.lee")
	if err != nil || status != domain.DirectorySuccess {
		t.Fatalf("expected success, got %s %v", status, err)
	}

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"userAccountControl": {"514"}})}
	status, _ = client.VerifyUser(context.Background(), "ann.lee")
	if status != domain.DirectoryDisabled {
		t.Fatalf("expected disabled, got %s", status)
	}

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"lockoutTime": {"133000000000000000"}})}
	status, _ = client.VerifyUser(context.Background(), "ann.lee")
	if status != domain.DirectoryLocked {
		t.Fatalf("expected locked, got %s", status)
	}

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"accountExpires": {"116444736000000001"}})}
	status, _ = client.VerifyUser(context.Background(), "ann.lee")
	if status != domain.DirectoryAccountExpired {
		t.Fatalf("expected account expired, got %s", status)
	}
}

func TestLDAPClient_GetPasswordPolicy(t *testing.T) {
	client, _ := newTestClient(t, baseConn(), nil)

	policy, err := client.GetPasswordPolicy(context.Background())
	if err != nil {
		t.Fatalf("GetPasswordPolicy returned error: %v", err)
	}
	if policy.MinLength != 12 || !policy.RequireComplexity || policy.HistoryLength != 24 || policy.LockoutThreshold != 5 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	age, bounded := policy.MaxAge.Duration()
	if !bounded || age != 42*24*time.Hour {
		t.Fatalf("expected 42 day max age, got %v %v", age, bounded)
	}
}

func TestLDAPClient_GetPasswordPolicyUnreachable(t *testing.T) {
	client, _ := newTestClient(t, nil, ldap.NewError(ldap.ErrorNetwork, errors.New("no route to host")))

	if _, err := client.GetPasswordPolicy(context.Background()); err == nil {
		t.Fatalf("expected error when directory unreachable")
	}
}

func TestMaxAgeFromInterval(t *testing.T) {
	if !maxAgeFromInterval(0).IsUnbounded() || !maxAgeFromInterval(neverExpires).IsUnbounded() {
		t.Fatalf("expected unbounded for never values")
	}
}

func TestLDAPClient_ChangePassword(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	status, err := client.ChangePassword(context.Background(), "ann.lee", "correct-horse", "battery-staple-9")
	if err != nil || status != domain.DirectorySuccess {
		t.Fatalf("expected success, got %s %v", status, err)
	}
	if conn.modified == nil || conn.modified.UserIdentity != userDN || conn.modified.NewPassword != "battery-staple-9" {
		t.Fatalf("unexpected modify request %+v", conn.modified)
	}
}

func TestLDAPClient_ChangePasswordRejectedOldPassword(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	status, _ := client.ChangePassword(context.Background(), "ann.lee", "wrong", "battery-staple-9")
	if status != domain.DirectoryFailed {
		t.Fatalf("expected failed, got %s", status)
	}
	if conn.modified != nil {
		t.Fatalf("modify must not run after failed verification")
	}
}

func TestLDAPClient_ChangePasswordAllowsExpiredPassword(t *testing.T) {
	conn := baseConn()
	conn.bindErrs[userDN] = ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("AcceptSecurityContext error, data 532, v3839"))
	client, _ := newTestClient(t, conn, nil)

	status, _ := client.ChangePassword(context.Background(), "ann.lee", "old", "battery-staple-9")
	if status != domain.DirectorySuccess {
		t.Fatalf("expected success for expired password change, got %s", status)
	}
}

func TestLDAPClient_ChangePasswordPolicyViolation(t *testing.T) {
	conn := baseConn()
	conn.modifyErr = ldap.NewError(ldap.LDAPResultConstraintViolation, errors.New("0000052D: Constraint violation"))
	client, _ := newTestClient(t, conn, nil)

	status, _ := client.ChangePassword(context.Background(), "ann.lee", "correct-horse", "short")
	if status != domain.DirectoryFailed {
		t.Fatalf("expected failed on constraint violation, got %s", status)
	}
}

// fileTimeOf converts t to a Windows FILETIME.
func fileTimeOf(t time.Time) string {
	return strconv.FormatInt(t.UnixNano()/100+116444736000000000, 10)
}

func TestLDAPClient_VerifyUserLockoutDuration(t *testing.T) {
	conn := baseConn()
	conn.root.Attributes = append(conn.root.Attributes, ldap.NewEntryAttribute("lockoutDuration", []string{"-18000000000"}))
	client, _ := newTestClient(t, conn, nil)

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"lockoutTime": {fileTimeOf(time.Now().Add(-2 * time.Hour))}})}
	status, err := client.VerifyUser(context.Background(), "ann.lee")
	if err != nil || status != domain.DirectorySuccess {
		t.Fatalf("expected expired lockout to read as success, got %s %v", status, err)
	}

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"lockoutTime": {fileTimeOf(time.Now().Add(-5 * time.Minute))}})}
	status, _ = client.VerifyUser(context.Background(), "ann.lee")
	if status != domain.DirectoryLocked {
		t.Fatalf("expected active lockout, got %s", status)
	}
}

func TestLDAPClient_VerifyUserPrefersComputedLockout(t *testing.T) {
	conn := baseConn()
	client, _ := newTestClient(t, conn, nil)

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{
		"lockoutTime":                        {"133000000000000000"},
		"msDS-User-Account-Control-Computed": {"0"},
	})}
	status, _ := client.VerifyUser(context.Background(), "ann.lee")
	if status != domain.DirectorySuccess {
		t.Fatalf("expected computed flag to clear a stale lockoutTime, got %s", status)
	}

	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"msDS-User-Account-Control-Computed": {"16"}})}
	status, _ = client.VerifyUser(context.Background(), "ann.lee")
	if status != domain.DirectoryLocked {
		t.Fatalf("expected computed lockout, got %s", status)
	}
}

func TestLDAPClient_WarningReadsPolicyBeforeUserBind(t *testing.T) {
	conn := baseConn()
	conn.users = []*ldap.Entry{userEntryWith(map[string][]string{"badPwdCount": {"3"}})}
	client, _ := newTestClient(t, conn, nil)

	status, err := client.Authenticate(context.Background(), "ann.lee", "wrong")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if status != domain.DirectoryLastAttemptWarning {
		t.Fatalf("expected last attempt warning, got %s", status)
	}
	if !conn.anonymous {
		t.Fatalf("expected the failed user bind to leave the session anonymous")
	}
	if _, err := conn.Search(ldap.NewSearchRequest("DC=corp,DC=example,DC=org", ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false, "(objectClass=*)", nil, nil)); err == nil {
		t.Fatalf("expected reads after a failed bind to be refused")
	}
}
