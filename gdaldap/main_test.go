package gdaldap

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/lemmego/gda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const testOU = "ou=gda-test,dc=example,dc=com"

// Test model mapped onto inetOrgPerson entries
type TestPerson struct {
	UID    string
	Name   string
	Last   string
	Email  string
	Status string
}

func personMapping() Mapping[TestPerson] {
	return Mapping[TestPerson]{
		BaseDN:        testOU,
		ObjectClasses: []string{"inetOrgPerson"},
		Attributes:    []string{"uid", "cn", "sn", "mail", "employeeType"},
		Fields: map[string]string{
			"status": "employeeType",
			"email":  "mail",
			"name":   "cn",
		},
		DN: func(p *TestPerson) string {
			return fmt.Sprintf("uid=%s,%s", p.UID, testOU)
		},
		DNForID: func(id any) string {
			return fmt.Sprintf("uid=%v,%s", id, testOU)
		},
		Attrs: func(p *TestPerson) map[string][]string {
			return map[string][]string{
				"uid":          {p.UID},
				"cn":           {p.Name},
				"sn":           {p.Last},
				"mail":         {p.Email},
				"employeeType": {p.Status},
			}
		},
		FromEntry: func(entry *ldap.Entry) (*TestPerson, error) {
			return &TestPerson{
				UID:    entry.GetAttributeValue("uid"),
				Name:   entry.GetAttributeValue("cn"),
				Last:   entry.GetAttributeValue("sn"),
				Email:  entry.GetAttributeValue("mail"),
				Status: entry.GetAttributeValue("employeeType"),
			}, nil
		},
	}
}

// Test suite
type LDAPDAOTestSuite struct {
	suite.Suite
	conn   *ldap.Conn
	people *DAO[TestPerson]
	ctx    context.Context
}

func (suite *LDAPDAOTestSuite) SetupSuite() {
	conn, err := Dial(gda.LDAPConfig{
		URL:      "ldap://localhost:389",
		BaseDN:   "dc=example,dc=com",
		BindDN:   "cn=admin,dc=example,dc=com",
		Password: "admin",
	})
	if err != nil {
		suite.T().Skip("LDAP not available for testing:", err)
		return
	}

	// Create the test subtree.
	req := ldap.NewAddRequest(testOU, nil)
	req.Attribute("objectClass", []string{"organizationalUnit"})
	req.Attribute("ou", []string{"gda-test"})
	if err := conn.Add(req); err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
		conn.Close()
		suite.T().Skip("LDAP test subtree not writable:", err)
		return
	}

	suite.conn = conn
	suite.people = New[TestPerson](conn, personMapping())
	suite.ctx = context.Background()
}

func (suite *LDAPDAOTestSuite) TearDownSuite() {
	if suite.conn != nil {
		suite.people.DeleteWhere(suite.ctx, nil)
		suite.conn.Del(ldap.NewDelRequest(testOU, nil))
		suite.conn.Close()
	}
}

func (suite *LDAPDAOTestSuite) SetupTest() {
	_, err := suite.people.DeleteWhere(suite.ctx, nil)
	require.NoError(suite.T(), err)
}

func (suite *LDAPDAOTestSuite) seedStatuses(statuses ...string) []*TestPerson {
	people := make([]*TestPerson, len(statuses))
	for i, status := range statuses {
		people[i] = &TestPerson{
			UID:    fmt.Sprintf("user%d", i+1),
			Name:   fmt.Sprintf("User %d", i+1),
			Last:   fmt.Sprintf("Lastname%d", i+1),
			Email:  fmt.Sprintf("user%d@example.com", i+1),
			Status: status,
		}
	}
	require.NoError(suite.T(), suite.people.SaveAll(suite.ctx, people))
	return people
}

func uids(people []*TestPerson) []string {
	out := make([]string, len(people))
	for i, p := range people {
		out[i] = p.UID
	}
	return out
}

// =====================================
// CRUD Tests
// =====================================

func (suite *LDAPDAOTestSuite) TestSaveAndGet() {
	person := &TestPerson{UID: "alice", Name: "Alice", Last: "Doe", Email: "alice@example.com", Status: "active"}
	require.NoError(suite.T(), suite.people.Save(suite.ctx, person))

	loaded, err := suite.people.Get(suite.ctx, "alice")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Alice", loaded.Name)
	assert.Equal(suite.T(), "active", loaded.Status)
}

func (suite *LDAPDAOTestSuite) TestGetMissing() {
	_, err := suite.people.Get(suite.ctx, "ghost")
	require.Error(suite.T(), err)
	assert.True(suite.T(), IsNotFound(err))
}

func (suite *LDAPDAOTestSuite) TestSaveDuplicateFails() {
	person := &TestPerson{UID: "bob", Name: "Bob", Last: "Doe", Email: "bob@example.com", Status: "active"}
	require.NoError(suite.T(), suite.people.Save(suite.ctx, person))

	err := suite.people.Save(suite.ctx, person)
	assert.True(suite.T(), ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists))
}

func (suite *LDAPDAOTestSuite) TestSaveOrUpdate() {
	person := &TestPerson{UID: "carol", Name: "Carol", Last: "Doe", Email: "carol@example.com", Status: "active"}
	require.NoError(suite.T(), suite.people.SaveOrUpdate(suite.ctx, person))

	person.Status = "blocked"
	require.NoError(suite.T(), suite.people.SaveOrUpdate(suite.ctx, person))

	loaded, err := suite.people.Get(suite.ctx, "carol")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "blocked", loaded.Status)

	count, err := suite.people.Count(suite.ctx, nil)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)
}

func (suite *LDAPDAOTestSuite) TestUpdate() {
	people := suite.seedStatuses("active")

	people[0].Email = "new@example.com"
	people[0].Status = "blocked"
	require.NoError(suite.T(), suite.people.Update(suite.ctx, people[0]))

	loaded, err := suite.people.Get(suite.ctx, people[0].UID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "new@example.com", loaded.Email)
	assert.Equal(suite.T(), "blocked", loaded.Status)
}

func (suite *LDAPDAOTestSuite) TestUpdateFieldsTouchesOnlyGivenAttributes() {
	people := suite.seedStatuses("active", "active")

	err := suite.people.UpdateFields(suite.ctx, people[0].UID, map[string]any{"status": "closed"})
	require.NoError(suite.T(), err)

	updated, err := suite.people.Get(suite.ctx, people[0].UID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "closed", updated.Status)
	assert.Equal(suite.T(), people[0].Email, updated.Email)

	other, err := suite.people.Get(suite.ctx, people[1].UID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "active", other.Status)
}

func (suite *LDAPDAOTestSuite) TestUpdateWhere() {
	suite.seedStatuses("active", "blocked", "active")

	modified, err := suite.people.UpdateWhere(suite.ctx,
		gda.Restrictions{"status": "active"},
		map[string]any{"status": "archived"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), modified)

	count, err := suite.people.Count(suite.ctx, gda.Restrictions{"status": "archived"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), count)
}

// =====================================
// Delete Tests
// =====================================

func (suite *LDAPDAOTestSuite) TestDeleteFamily() {
	people := suite.seedStatuses("active", "blocked", "closed")

	require.NoError(suite.T(), suite.people.Delete(suite.ctx, people[0]))
	require.NoError(suite.T(), suite.people.DeleteByID(suite.ctx, people[1].UID))
	require.NoError(suite.T(), suite.people.DeleteByIDs(suite.ctx, people[2].UID))

	count, err := suite.people.Count(suite.ctx, nil)
	require.NoError(suite.T(), err)
	assert.Zero(suite.T(), count)
}

func (suite *LDAPDAOTestSuite) TestDeleteMissingSurfacesNoSuchObject() {
	err := suite.people.DeleteByID(suite.ctx, "ghost")
	require.Error(suite.T(), err)
	assert.True(suite.T(), IsNotFound(err))
}

func (suite *LDAPDAOTestSuite) TestDeleteWhere() {
	suite.seedStatuses("active", "blocked", "active")

	deleted, err := suite.people.DeleteWhere(suite.ctx, gda.Restrictions{"status": "active"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), deleted)

	count, err := suite.people.Count(suite.ctx, nil)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)
}

func (suite *LDAPDAOTestSuite) TestDeleteWhereUnrestrictedSparesTheContainer() {
	suite.seedStatuses("active", "blocked")

	deleted, err := suite.people.DeleteWhere(suite.ctx, nil)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), deleted)

	// The search base sits inside its own subtree, so only the object class
	// assertion keeps the ou entry off the deletion list. A subsequent save
	// proves the container survived.
	person := &TestPerson{UID: "dave", Name: "Dave", Last: "Doe", Email: "dave@example.com", Status: "active"}
	require.NoError(suite.T(), suite.people.Save(suite.ctx, person))

	count, err := suite.people.Count(suite.ctx, nil)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)
}

// =====================================
// Query Tests
// =====================================

func (suite *LDAPDAOTestSuite) TestListScalarRestriction() {
	people := suite.seedStatuses("active", "blocked", "active")

	matched, err := suite.people.List(suite.ctx, gda.Restrictions{"status": "active"}, gda.Page{})
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), []string{people[0].UID, people[2].UID}, uids(matched))
}

func (suite *LDAPDAOTestSuite) TestListSliceRestriction() {
	people := suite.seedStatuses("active", "blocked", "closed")

	matched, err := suite.people.List(suite.ctx,
		gda.Restrictions{"status": []string{"blocked", "closed"}}, gda.Page{})
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), []string{people[1].UID, people[2].UID}, uids(matched))
}

func (suite *LDAPDAOTestSuite) TestListEmptySliceMatchesNothing() {
	suite.seedStatuses("active")

	matched, err := suite.people.List(suite.ctx,
		gda.Restrictions{"status": []string{}}, gda.Page{})
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), matched)
}

func (suite *LDAPDAOTestSuite) TestUnrestrictedQueriesSeeOnlyMappedEntries() {
	people := suite.seedStatuses("active", "blocked")

	// Only entries carrying the mapping's object classes count; the ou
	// container shares the subtree but must never decode as a person.
	matched, err := suite.people.List(suite.ctx, nil, gda.Page{})
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), uids(people), uids(matched))

	count, err := suite.people.Count(suite.ctx, nil)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(2), count)
}

func (suite *LDAPDAOTestSuite) TestListPagination() {
	seeded := suite.seedStatuses("active", "active", "active", "active", "active")

	seen := make(map[string]int)
	for first := 0; first < len(seeded); first += 2 {
		page, err := suite.people.List(suite.ctx, nil, gda.Page{First: first, Max: 2})
		require.NoError(suite.T(), err)
		for _, p := range page {
			seen[p.UID]++
		}
	}
	assert.Len(suite.T(), seen, len(seeded))
	for _, hits := range seen {
		assert.Equal(suite.T(), 1, hits)
	}

	rest, err := suite.people.List(suite.ctx, nil, gda.Page{First: 3})
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), rest, 2)
}

func (suite *LDAPDAOTestSuite) TestCountAndExists() {
	suite.seedStatuses("active", "blocked")

	exists, err := suite.people.Exists(suite.ctx, gda.Restrictions{"status": "blocked"})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), exists)

	exists, err = suite.people.Exists(suite.ctx, gda.Restrictions{"status": "missing"})
	require.NoError(suite.T(), err)
	assert.False(suite.T(), exists)
}

func TestLDAPDAOTestSuite(t *testing.T) {
	suite.Run(t, new(LDAPDAOTestSuite))
}
