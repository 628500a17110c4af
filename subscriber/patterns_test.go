package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/PowerDNS/perfagent/config"
)

func TestPattern(t *testing.T) {
	tests := []struct {
		pattern    string
		controller string
		action     string
		want       bool
	}{
		{"Admin::*", "Admin::UsersController", "show", true},
		{"Admin::*", "UsersController", "show", false},
		{"Admin::*", "Admin::", "", true},
		{"Admin::*#*", "Admin::UsersController", "index", true},
		{"Admin::*#*", "Admin::Reports::ExportController", "create", true},
		{"Admin::*#*", "UsersController", "index", false},
		{"UsersController#show", "UsersController", "show", true},
		{"UsersController#show", "UsersController", "index", false},
		{"UsersController", "UsersController", "index", true},
		{"*", "Anything", "at_all", true},
		{"*#destroy", "UsersController", "destroy", true},
		{"*#destroy", "UsersController", "show", false},
		{"Health*", "HealthController", "", true},
		{"Users.Controller", "UsersXController", "", false}, // no regexp metacharacters
		{"", "UsersController", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.controller+"#"+tt.action, func(t *testing.T) {
			assert.Equal(t, tt.want, CompilePattern(tt.pattern).Match(tt.controller, tt.action))
		})
	}
}

func TestPatternSet(t *testing.T) {
	ps := CompilePatterns(config.Patterns{
		Controllers: []string{"Admin::*"},
		Actions:     []string{"UsersController#destroy", ""},
		Jobs:        []string{"Cleanup*"},
	})
	assert.True(t, ps.MatchRequest("Admin::UsersController", "show"))
	assert.True(t, ps.MatchRequest("UsersController", "destroy"))
	assert.False(t, ps.MatchRequest("UsersController", "show"))
	assert.True(t, ps.MatchJob("CleanupJob"))
	assert.False(t, ps.MatchJob("MailerJob"))
	assert.True(t, ps.HasRequests())
	assert.True(t, ps.HasJobs())

	empty := CompilePatterns(config.Patterns{})
	assert.False(t, empty.HasRequests())
	assert.False(t, empty.MatchRequest("Admin::X", "y"))
}
