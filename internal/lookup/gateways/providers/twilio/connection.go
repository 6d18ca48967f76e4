package twilio

import (
	"errors"
	"sync"

	"github.com/twilio/twilio-go"
	lookupsv1 "github.com/twilio/twilio-go/rest/lookups/v1"
)

// https://www.twilio.com/docs/lookup/v1/api#caller-name
const callerNameType = "caller-name"

var errMissingCredentials = errors.New("twilio account sid and auth token are required")

// CallerInfo is the part of a Twilio Lookups answer the provider uses.
type CallerInfo struct {
	PhoneNumber string
	CallerName  string
	CallerType  string // BUSINESS, CONSUMER or empty
	CountryCode string
}

// Client resolves caller names. It is satisfied by the REST adapter built by
// ConnectionManager and by fakes in tests.
type Client interface {
	LookupCallerName(number string) (CallerInfo, error)
}

// restClient adapts the Twilio REST client to Client.
type restClient struct {
	rc *twilio.RestClient
}

func newRestClient(accountSID, authToken string) Client {
	return &restClient{rc: twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})}
}

func (c *restClient) LookupCallerName(number string) (CallerInfo, error) {
	resp, err := c.rc.LookupsV1.FetchPhoneNumber(number, &lookupsv1.FetchPhoneNumberParams{
		Type: &[]string{callerNameType},
	})
	if err != nil {
		return CallerInfo{}, err
	}

	info := CallerInfo{PhoneNumber: number}
	if resp.PhoneNumber != nil {
		info.PhoneNumber = *resp.PhoneNumber
	}
	if resp.CountryCode != nil {
		info.CountryCode = *resp.CountryCode
	}
	if resp.CallerName == nil {
		return info, nil
	}
	fields, ok := (*resp.CallerName).(map[string]interface{})
	if !ok {
		return info, nil
	}
	if name, ok := fields["caller_name"].(string); ok {
		info.CallerName = name
	}
	if kind, ok := fields["caller_type"].(string); ok {
		info.CallerType = kind
	}
	return info, nil
}

// ConnectionManager is a reference-counted handle to a shared Client. The
// client is created by the first Acquire and dropped by the last Release, so
// several providers can share one connection without a package-level global.
type ConnectionManager struct {
	mu        sync.Mutex
	refs      int
	client    Client
	newClient func() (Client, error)
}

// NewConnectionManager returns a manager that builds REST clients from the
// given credentials. Acquire fails while either credential is empty.
func NewConnectionManager(accountSID, authToken string) *ConnectionManager {
	return &ConnectionManager{newClient: func() (Client, error) {
		if accountSID == "" || authToken == "" {
			return nil, errMissingCredentials
		}
		return newRestClient(accountSID, authToken), nil
	}}
}

// NewConnectionManagerWithFactory returns a manager that builds clients with f.
func NewConnectionManagerWithFactory(f func() (Client, error)) *ConnectionManager {
	return &ConnectionManager{newClient: f}
}

// Acquire returns the shared client, creating it if this is the first holder.
func (m *ConnectionManager) Acquire() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		c, err := m.newClient()
		if err != nil {
			return nil, err
		}
		m.client = c
	}
	m.refs++
	return m.client, nil
}

// Release drops one reference; the last release discards the client.
func (m *ConnectionManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs == 0 {
		return
	}
	m.refs--
	if m.refs == 0 {
		m.client = nil
	}
}

// Refs returns the current number of holders.
func (m *ConnectionManager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}
