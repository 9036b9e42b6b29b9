package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/arklim/dispense-auth/internal/core/domain"
	"github.com/arklim/dispense-auth/internal/core/port"
	appLogger "github.com/arklim/dispense-auth/internal/infra/logger"
)

const (
	defaultLDAPPort  = 389
	defaultLDAPSPort = 636

	// userAccountControl flags.
	uacAccountDisable = 0x0002
	uacLockout        = 0x0010

	// pwdProperties flag for DOMAIN_PASSWORD_COMPLEX.
	pwdPropertiesComplex = 0x1
)

// neverExpires is the largest negative interval AD uses for maxPwdAge "never".
const neverExpires = int64(-9223372036854775808)

var userAttributes = []string{
	"distinguishedName",
	"userAccountControl",
	"badPwdCount",
	"accountExpires",
	"lockoutTime",
	"msDS-User-Account-Control-Computed",
}

var policyAttributes = []string{
	"minPwdLength",
	"pwdProperties",
	"pwdHistoryLength",
	"maxPwdAge",
	"lockoutThreshold",
	"lockoutDuration",
}

// adSubCode extracts the extended error of an Active Directory bind failure ("data 52e").
var adSubCode = regexp.MustCompile(`data ([0-9a-fA-F]{3,4})`)

// Conn is the part of *ldap.Conn the client uses.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	PasswordModify(req *ldap.PasswordModifyRequest) (*ldap.PasswordModifyResult, error)
	SetTimeout(timeout time.Duration)
	Close() error
}

// Dialer opens a connection to the directory.
type Dialer func(ctx context.Context, url string, tlsConfig *tls.Config, timeout time.Duration) (Conn, error)

// LDAPConfig describes one enterprise directory.
type LDAPConfig struct {
	Domain          domain.DirectoryDomain
	SystemPassword  string
	Timeout         time.Duration
	InsecureSkipTLS bool
}

// LDAPClient implements port.DirectoryClient against Active Directory flavoured LDAP.
// Every operation dials a fresh connection.
type LDAPClient struct {
	cfg    LDAPConfig
	baseDN string
	dial   Dialer
	logger *zap.Logger
}

// NewLDAPClient builds a client; dial may be nil to use the network.
func NewLDAPClient(cfg LDAPConfig, dial Dialer, logger *zap.Logger) (*LDAPClient, error) {
	if strings.TrimSpace(cfg.Domain.FQDN) == "" {
		return nil, errors.New("ldap: domain fqdn is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if dial == nil {
		dial = DialLDAP
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LDAPClient{
		cfg:    cfg,
		baseDN: BaseDN(cfg.Domain.FQDN),
		dial:   dial,
		logger: logger.With(zap.String("domain", cfg.Domain.FQDN)),
	}, nil
}

// DialLDAP connects with go-ldap.
func DialLDAP(_ context.Context, url string, tlsConfig *tls.Config, timeout time.Duration) (Conn, error) {
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: timeout})}
	if tlsConfig != nil {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, err
	}
	return ldapConn{conn}, nil
}

type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// BaseDN converts corp.example.org into DC=corp,DC=example,DC=org.
func BaseDN(fqdn string) string {
	labels := strings.Split(strings.Trim(fqdn, "."), ".")
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		if label == "" {
			continue
		}
		parts = append(parts, "DC="+label)
	}
	return strings.Join(parts, ",")
}

func (c *LDAPClient) url() string {
	scheme, port := "ldap", c.cfg.Domain.Port
	if c.cfg.Domain.UseTLS {
		scheme = "ldaps"
	}
	if port <= 0 {
		port = defaultLDAPPort
		if c.cfg.Domain.UseTLS {
			port = defaultLDAPSPort
		}
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.cfg.Domain.FQDN, strconv.Itoa(port)))
}

// connect dials and binds the system account. A non-success status means the directory cannot serve the call.
func (c *LDAPClient) connect(ctx context.Context) (Conn, domain.DirectoryStatus) {
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 || ctx.Err() != nil {
		return nil, domain.DirectoryTimedOut
	}

	var tlsConfig *tls.Config
	if c.cfg.Domain.UseTLS {
		tlsConfig = &tls.Config{
			ServerName:         c.cfg.Domain.FQDN,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.cfg.InsecureSkipTLS, //nolint:gosec
		}
	}

	conn, err := c.dial(ctx, c.url(), tlsConfig, timeout)
	if err != nil {
		c.logger.Warn("ldap dial failed", zap.Error(err))
		return nil, transportStatus(err)
	}
	conn.SetTimeout(timeout)

	if err := conn.Bind(c.cfg.Domain.SystemAccount, c.cfg.SystemPassword); err != nil {
		_ = conn.Close()
		c.logger.Error("ldap system bind failed", zap.String("system_account", appLogger.MaskUsername(c.cfg.Domain.SystemAccount)), zap.Error(err))
		if status, ok := networkStatus(err); ok {
			return nil, status
		}
		return nil, domain.DirectoryError
	}
	return conn, domain.DirectorySuccess
}

type userEntry struct {
	dn          string
	uac         int64
	badPwdCount int
	expires     int64
	lockoutTime int64
	// computedUAC is msDS-User-Account-Control-Computed; AD clears its lockout bit once lockoutDuration passes.
	computedUAC *int64
}

// lockoutSettings is the domain-wide lockout configuration read from the naming context root.
type lockoutSettings struct {
	known     bool
	threshold int
	// duration zero means locked accounts stay locked until an administrator unlocks them.
	duration time.Duration
}

func (c *LDAPClient) findUser(conn Conn, username string) (userEntry, domain.DirectoryStatus) {
	req := ldap.NewSearchRequest(
		c.baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		2,
		0,
		false,
		fmt.Sprintf("(&(objectCategory=person)(objectClass=user)(sAMAccountName=%s))", ldap.EscapeFilter(username)),
		userAttributes,
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
			return userEntry{}, domain.DirectoryMultipleMatches
		}
		if status, ok := networkStatus(err); ok {
			return userEntry{}, status
		}
		c.logger.Error("ldap user search failed", zap.String("username", appLogger.MaskUsername(username)), zap.Error(err))
		return userEntry{}, domain.DirectoryError
	}

	switch len(result.Entries) {
	case 0:
		return userEntry{}, domain.DirectoryNotFound
	case 1:
	default:
		return userEntry{}, domain.DirectoryMultipleMatches
	}

	entry := result.Entries[0]
	return userEntry{
		dn:          entry.DN,
		uac:         attrInt(entry, "userAccountControl"),
		badPwdCount: int(attrInt(entry, "badPwdCount")),
		expires:     attrInt(entry, "accountExpires"),
		lockoutTime: attrInt(entry, "lockoutTime"),
		computedUAC: attrIntOpt(entry, "msDS-User-Account-Control-Computed"),
	}, domain.DirectorySuccess
}

// accountStatus inspects the account flags without a password.
func accountStatus(user userEntry, lockout lockoutSettings, now time.Time) domain.DirectoryStatus {
	switch {
	case user.uac&uacAccountDisable != 0:
		return domain.DirectoryDisabled
	case isLockedOut(user, lockout, now):
		return domain.DirectoryLocked
	case user.expires > 0 && user.expires != neverExpiresAccount && fileTime(user.expires).Before(now):
		return domain.DirectoryAccountExpired
	default:
		return domain.DirectorySuccess
	}
}

// isLockedOut prefers the computed flag. Without it, a lockoutTime only counts while
// lockoutDuration has not elapsed since it was set.
func isLockedOut(user userEntry, lockout lockoutSettings, now time.Time) bool {
	if user.computedUAC != nil {
		return *user.computedUAC&uacLockout != 0
	}
	if user.uac&uacLockout != 0 {
		return true
	}
	if user.lockoutTime <= 0 {
		return false
	}
	if !lockout.known || lockout.duration == 0 {
		return true
	}
	return now.Before(fileTime(user.lockoutTime).Add(lockout.duration))
}

// neverExpiresAccount is the accountExpires sentinel for "never".
const neverExpiresAccount = int64(0x7FFFFFFFFFFFFFFF)

// Authenticate binds as the user and translates the result.
func (c *LDAPClient) Authenticate(ctx context.Context, username, password string) (domain.DirectoryStatus, error) {
	if username == "" {
		return "", errors.New("ldap: username is required")
	}
	if password == "" {
		// An empty password performs an unauthenticated bind, which servers accept.
		return domain.DirectoryFailed, nil
	}

	conn, status := c.connect(ctx)
	if status != domain.DirectorySuccess {
		return status, nil
	}
	defer conn.Close()

	user, status := c.findUser(conn, username)
	if status != domain.DirectorySuccess {
		return status, nil
	}

	// The user bind replaces the system identity, and a failed bind leaves the session
	// anonymous, so the domain root is read first.
	lockout := c.lockoutSettings(conn)

	err := conn.Bind(user.dn, password)
	if err == nil {
		return domain.DirectorySuccess, nil
	}

	status = bindStatus(err)
	if status == domain.DirectoryFailed && lockout.threshold > 0 && user.badPwdCount+1 == lockout.threshold-1 {
		return domain.DirectoryLastAttemptWarning, nil
	}
	return status, nil
}

func (c *LDAPClient) lockoutSettings(conn Conn) lockoutSettings {
	entry, err := c.domainRoot(conn)
	if err != nil {
		c.logger.Debug("ldap lockout settings unavailable", zap.Error(err))
		return lockoutSettings{}
	}
	return lockoutSettings{
		known:     true,
		threshold: int(attrInt(entry, "lockoutThreshold")),
		duration:  intervalDuration(attrInt(entry, "lockoutDuration")),
	}
}

// VerifyUser looks the account up with the system account and reports its flags.
func (c *LDAPClient) VerifyUser(ctx context.Context, username string) (domain.DirectoryStatus, error) {
	if username == "" {
		return "", errors.New("ldap: username is required")
	}

	conn, status := c.connect(ctx)
	if status != domain.DirectorySuccess {
		return status, nil
	}
	defer conn.Close()

	user, status := c.findUser(conn, username)
	if status != domain.DirectorySuccess {
		return status, nil
	}

	var lockout lockoutSettings
	if user.computedUAC == nil && user.lockoutTime > 0 {
		lockout = c.lockoutSettings(conn)
	}
	return accountStatus(user, lockout, time.Now()), nil
}

// GetPasswordPolicy reads the default domain policy from the naming context root.
func (c *LDAPClient) GetPasswordPolicy(ctx context.Context) (domain.PasswordPolicy, error) {
	conn, status := c.connect(ctx)
	if status != domain.DirectorySuccess {
		return domain.PasswordPolicy{}, fmt.Errorf("ldap: connect for policy: %s", status)
	}
	defer conn.Close()

	entry, err := c.domainRoot(conn)
	if err != nil {
		return domain.PasswordPolicy{}, err
	}
	return policyFromEntry(entry), nil
}

func (c *LDAPClient) domainRoot(conn Conn) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		c.baseDN,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1,
		0,
		false,
		"(objectClass=*)",
		policyAttributes,
		nil,
	)
	result, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap: read domain policy: %w", err)
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("ldap: domain root %s not found", c.baseDN)
	}
	return result.Entries[0], nil
}

func policyFromEntry(entry *ldap.Entry) domain.PasswordPolicy {
	complexity := attrInt(entry, "pwdProperties")&pwdPropertiesComplex != 0
	policy := domain.PasswordPolicy{
		MinLength:         int(attrInt(entry, "minPwdLength")),
		RequireComplexity: complexity,
		HistoryLength:     int(attrInt(entry, "pwdHistoryLength")),
		LockoutThreshold:  int(attrInt(entry, "lockoutThreshold")),
		MaxAge:            maxAgeFromInterval(attrInt(entry, "maxPwdAge")),
	}
	if complexity {
		policy.MinCharClasses = 3
	}
	return policy
}

// maxAgeFromInterval converts AD's negative 100ns interval into a MaxPasswordAge.
func maxAgeFromInterval(raw int64) domain.MaxPasswordAge {
	if d := intervalDuration(raw); d > 0 {
		return domain.BoundedAge(d)
	}
	return domain.UnboundedAge()
}

// intervalDuration converts AD's negative 100ns interval; zero and "never" yield 0.
func intervalDuration(raw int64) time.Duration {
	if raw == 0 || raw == neverExpires {
		return 0
	}
	if raw < 0 {
		raw = -raw
	}
	return time.Duration(raw) * 100
}

// ChangePassword verifies the old password by binding as the user, then issues a Password Modify operation.
func (c *LDAPClient) ChangePassword(ctx context.Context, username, oldPassword, newPassword string) (domain.DirectoryStatus, error) {
	if username == "" || newPassword == "" {
		return "", errors.New("ldap: username and new password are required")
	}
	if oldPassword == "" {
		return domain.DirectoryFailed, nil
	}

	conn, status := c.connect(ctx)
	if status != domain.DirectorySuccess {
		return status, nil
	}
	defer conn.Close()

	user, status := c.findUser(conn, username)
	if status != domain.DirectorySuccess {
		return status, nil
	}

	if err := conn.Bind(user.dn, oldPassword); err != nil {
		status := bindStatus(err)
		// Expired and must-change passwords are exactly the ones being replaced.
		if status != domain.DirectoryExpired && status != domain.DirectoryMustChange {
			return status, nil
		}
	}

	_, err := conn.PasswordModify(ldap.NewPasswordModifyRequest(user.dn, oldPassword, newPassword))
	if err != nil {
		if status, ok := networkStatus(err); ok {
			return status, nil
		}
		if ldap.IsErrorWithCode(err, ldap.LDAPResultConstraintViolation) {
			c.logger.Info("ldap password change rejected by policy", zap.String("username", appLogger.MaskUsername(username)), zap.Error(err))
			return domain.DirectoryFailed, nil
		}
		c.logger.Error("ldap password modify failed", zap.String("username", appLogger.MaskUsername(username)), zap.Error(err))
		return domain.DirectoryError, nil
	}
	return domain.DirectorySuccess, nil
}

// bindStatus maps a user bind failure, honouring AD extended codes.
func bindStatus(err error) domain.DirectoryStatus {
	if status, ok := networkStatus(err); ok {
		return status
	}
	if !ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return domain.DirectoryError
	}

	match := adSubCode.FindStringSubmatch(err.Error())
	if match == nil {
		return domain.DirectoryFailed
	}
	switch strings.ToLower(match[1]) {
	case "525":
		return domain.DirectoryNotFound
	case "532":
		return domain.DirectoryExpired
	case "533":
		return domain.DirectoryDisabled
	case "701":
		return domain.DirectoryAccountExpired
	case "773":
		return domain.DirectoryMustChange
	case "775":
		return domain.DirectoryLocked
	default:
		return domain.DirectoryFailed
	}
}

// networkStatus classifies transport failures.
func networkStatus(err error) (domain.DirectoryStatus, bool) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.DirectoryTimedOut, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.DirectoryTimedOut, true
	}
	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") || strings.Contains(strings.ToLower(err.Error()), "timed out") {
			return domain.DirectoryTimedOut, true
		}
		return domain.DirectoryUnreachable, true
	}
	return "", false
}

func transportStatus(err error) domain.DirectoryStatus {
	if status, ok := networkStatus(err); ok {
		return status
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return domain.DirectoryCertificateInvalid
	}
	return domain.DirectoryUnreachable
}

func attrInt(entry *ldap.Entry, name string) int64 {
	raw := entry.GetAttributeValue(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func attrIntOpt(entry *ldap.Entry, name string) *int64 {
	raw := entry.GetAttributeValue(name)
	if raw == "" {
		return nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &value
}

// fileTime converts a Windows FILETIME (100ns since 1601) to time.Time.
func fileTime(ft int64) time.Time {
	const epochDelta = 116444736000000000
	return time.Unix(0, (ft-epochDelta)*100).UTC()
}

var _ port.DirectoryClient = (*LDAPClient)(nil)
