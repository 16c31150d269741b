package priority

import (
	"testing"

	"job_fair/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestScoreOrderingByRoleAndTier(t *testing.T) {
	reviewer := Score(models.RoleReviewer, "", models.EngagementAcademicProject)
	operator := Score(models.RoleOperator, "", models.EngagementAcademicProject)
	internal := Score(models.RoleApplicant, models.TierInternal, models.EngagementAcademicProject)
	external := Score(models.RoleApplicant, models.TierExternal, models.EngagementAcademicProject)

	assert.Less(t, reviewer, operator)
	assert.Less(t, operator, internal)
	assert.Less(t, internal, external)
}

func TestScoreTierDominatesEngagement(t *testing.T) {
	// Внутренний соискатель с "худшей" целью всё равно приоритетнее внешнего с "лучшей".
	internalObservation := Score(models.RoleApplicant, models.TierInternal, models.EngagementObservation)
	externalAcademic := Score(models.RoleApplicant, models.TierExternal, models.EngagementAcademicProject)

	assert.Less(t, internalObservation, externalAcademic)
}

func TestScoreEngagementModifiers(t *testing.T) {
	cases := []struct {
		engagement string
		want       int
	}{
		{models.EngagementAcademicProject, 200},
		{models.EngagementInternship, 205},
		{models.EngagementEmployment, 210},
		{models.EngagementObservation, 220},
	}
	for _, tc := range cases {
		got := Score(models.RoleApplicant, models.TierInternal, tc.engagement)
		assert.Equal(t, tc.want, got, "цель %s", tc.engagement)
	}
}

func TestScoreUnknownEngagementWorstNotError(t *testing.T) {
	unknown := Score(models.RoleApplicant, models.TierExternal, "charity")
	observation := Score(models.RoleApplicant, models.TierExternal, models.EngagementObservation)

	// Нераспознанная цель получает худший модификатор, но приоритет считается.
	assert.Greater(t, unknown, observation)
}
