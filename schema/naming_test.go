package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamingStrategyTableName(t *testing.T) {
	ns := NamingStrategy{}
	assert.Equal(t, "members", ns.TableName("Member"))
	assert.Equal(t, "tennis_clubs", ns.TableName("TennisClub"))

	prefixed := NamingStrategy{TablePrefix: "club_"}
	assert.Equal(t, "club_members", prefixed.TableName("Member"))

	singular := NamingStrategy{SingularTable: true}
	assert.Equal(t, "member", singular.TableName("Member"))
}

func TestNamingStrategyColumnName(t *testing.T) {
	ns := NamingStrategy{}
	assert.Equal(t, "firstname", ns.ColumnName("firstname"))
	assert.Equal(t, "joined_date", ns.ColumnName("JoinedDate"))
	assert.Equal(t, "phone_e164", ns.ColumnName("PhoneE164"))
}

func TestNamingStrategyRelationNames(t *testing.T) {
	ns := NamingStrategy{}
	assert.Equal(t, "team_id", ns.ForeignKeyName("team"))
	assert.Equal(t, "member_tournaments", ns.JoinTableName("Member", "tournaments"))
	assert.Equal(t, "members", ns.ReverseName("Member", true))
	assert.Equal(t, "profile", ns.ReverseName("Profile", false))
}
