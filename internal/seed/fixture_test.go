package seed_test

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/saulo-duarte/cbt-engine/internal/schema"
	"github.com/saulo-duarte/cbt-engine/internal/seed"
	"github.com/saulo-duarte/cbt-engine/internal/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestApplySchoolFixture(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repos, err := schema.NewRegistry(nil).Repositories(ctx, db)
	require.NoError(t, err)

	f, err := seed.Load("testdata/school.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Green Hill Academy", f.Tenant)

	res, err := seed.Apply(ctx, repos, f)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Questions)
	require.Contains(t, res.Users, "ada")
	assert.Equal(t, user.RoleStudent, res.Users["ada"].Role)

	room, err := repos.Classrooms.GetByID(ctx, res.ClassroomID)
	require.NoError(t, err)
	assert.True(t, room.HasMember(res.Users["tunde"].ID))
	assert.False(t, room.HasMember(res.Users["ms.okafor"].ID))
	require.NotNil(t, room.TeacherID)
	assert.Equal(t, res.Users["ms.okafor"].ID, *room.TeacherID)

	test, err := repos.Tests.GetByID(ctx, res.Tests["English Practice"])
	require.NoError(t, err)
	assert.Equal(t, 50.0, test.PassThreshold)
	n, ok := test.QuestionCount("English")
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	ids, err := repos.Questions.ListIDsBySubject(ctx, "Mathematics")
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestParseRejects(t *testing.T) {
	_, err := seed.Parse([]byte("users: []"))
	assert.Error(t, err)

	_, err = seed.Parse([]byte("tenant: X\nusers:\n  - username: a\n    role: principal\n"))
	assert.Error(t, err)

	_, err = seed.Parse([]byte("tenant: [unclosed"))
	assert.Error(t, err)
}

func TestApplyUnknownMember(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	repos, err := schema.NewRegistry(nil).Repositories(ctx, db)
	require.NoError(t, err)

	f, err := seed.Parse([]byte("tenant: X\nclassroom:\n  name: A\n  members: [ghost]\n"))
	require.NoError(t, err)
	_, err = seed.Apply(ctx, repos, f)
	assert.ErrorContains(t, err, "ghost")
}
