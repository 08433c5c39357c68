package content_store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/models"
	"explanation-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// storeFixture 两种存储实现共用的测试夹具
type storeFixture struct {
	name  string
	store ContentStore
	add   func(item *models.ExplainedItem)
}

func newFixtures(t *testing.T) []storeFixture {
	testDB := testutil.NewTestDB()
	t.Cleanup(testDB.Close)
	memoryStore := NewMemoryStore()

	return []storeFixture{
		{
			name:  "gorm",
			store: NewGormStore(testDB.DB),
			add: func(item *models.ExplainedItem) {
				require.NoError(t, testDB.DB.Create(item.Clone()).Error)
			},
		},
		{
			name:  "memory",
			store: memoryStore,
			add:   memoryStore.Put,
		},
	}
}

func TestStore_LoadAndSave(t *testing.T) {
	for _, fx := range newFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			item := testutil.NewExplainedItem()
			fx.add(item)

			loaded, token, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), token)
			assert.Equal(t, item.Title, loaded.Title)

			loaded.SetQualityScore(82)
			now := time.Now().UTC()
			loaded.QualityCheckedAt = &now
			next, err := fx.store.Save(ctx, loaded, token)
			require.NoError(t, err)
			assert.Equal(t, token+1, next)

			reloaded, reloadedToken, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, next, reloadedToken)
			assert.Equal(t, 82, reloaded.QualityScore)
			assert.NotNil(t, reloaded.QualityCheckedAt)

			summary, ok := reloaded.Section(models.SectionSummary)
			require.True(t, ok)
			assert.Equal(t, testutil.CompleteSections()[models.SectionSummary], summary)
		})
	}
}

func TestStore_StaleTokenConflicts(t *testing.T) {
	for _, fx := range newFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			item := testutil.NewExplainedItem()
			fx.add(item)

			first, token, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)
			second, _, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)

			first.SetQualityScore(90)
			_, err = fx.store.Save(ctx, first, token)
			require.NoError(t, err)

			second.SetQualityScore(10)
			_, err = fx.store.Save(ctx, second, token)
			require.Error(t, err)
			assert.Equal(t, errdef.KindConflict, errdef.KindOf(err))
			assert.True(t, errdef.IsRetryable(err))

			current, _, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, 90, current.QualityScore, "过期写入不得覆盖较新写入")
		})
	}
}

func TestStore_ImprovementVersionNeverDecreases(t *testing.T) {
	for _, fx := range newFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			item := testutil.NewExplainedItem()
			fx.add(item)

			loaded, token, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)
			loaded.ImprovementVersion = 2
			token, err = fx.store.Save(ctx, loaded, token)
			require.NoError(t, err)

			loaded.ImprovementVersion = 1
			_, err = fx.store.Save(ctx, loaded, token)
			require.Error(t, err)
			assert.Equal(t, errdef.KindValidation, errdef.KindOf(err))

			current, _, err := fx.store.Load(ctx, item.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, current.ImprovementVersion)
		})
	}
}

func TestStore_MissingItem(t *testing.T) {
	for _, fx := range newFixtures(t) {
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()

			_, _, err := fx.store.Load(ctx, "missing")
			assert.Equal(t, errdef.KindValidation, errdef.KindOf(err))

			_, err = fx.store.Save(ctx, testutil.NewExplainedItem(testutil.WithID("missing")), 0)
			assert.Equal(t, errdef.KindValidation, errdef.KindOf(err))
		})
	}
}

// StoreSelectSuite 条目筛选测试套件
type StoreSelectSuite struct {
	suite.Suite
	fixtures []storeFixture
	cutoff   time.Time
}

func (s *StoreSelectSuite) SetupTest() {
	s.fixtures = newFixtures(s.T())
	s.cutoff = time.Now().UTC().AddDate(0, 0, -30)

	for _, fx := range s.fixtures {
		// 7 个从未检查的条目
		for i := 0; i < 7; i++ {
			fx.add(testutil.NewExplainedItem(testutil.WithID(fmt.Sprintf("never-%02d", i))))
		}
		// 5 个已检查的条目，分数和检查时间各不相同
		fx.add(testutil.NewExplainedItem(testutil.WithID("old-low"), testutil.WithCheckedAt(s.cutoff.AddDate(0, 0, -10), 40)))
		fx.add(testutil.NewExplainedItem(testutil.WithID("old-high"), testutil.WithCheckedAt(s.cutoff.AddDate(0, 0, -5), 95)))
		fx.add(testutil.NewExplainedItem(testutil.WithID("new-low"), testutil.WithCheckedAt(time.Now().UTC(), 55)))
		fx.add(testutil.NewExplainedItem(testutil.WithID("new-mid"), testutil.WithCheckedAt(time.Now().UTC(), 70)))
		fx.add(testutil.NewExplainedItem(testutil.WithID("new-high"), testutil.WithCheckedAt(time.Now().UTC(), 88)))
	}
}

func (s *StoreSelectSuite) TestNeverChecked() {
	for _, fx := range s.fixtures {
		ids, err := fx.store.Select(context.Background(), models.ItemFilter{NeverChecked: true})
		s.Require().NoError(err, fx.name)
		s.Len(ids, 7, fx.name)
		s.Equal("never-00", ids[0], fx.name)
	}
}

func (s *StoreSelectSuite) TestCheckedBefore() {
	for _, fx := range s.fixtures {
		ids, err := fx.store.Select(context.Background(), models.ItemFilter{CheckedBefore: &s.cutoff})
		s.Require().NoError(err, fx.name)
		s.Equal([]string{"old-high", "old-low"}, ids, fx.name)
	}
}

func (s *StoreSelectSuite) TestNeverCheckedOrCheckedBefore() {
	for _, fx := range s.fixtures {
		ids, err := fx.store.Select(context.Background(), models.ItemFilter{NeverChecked: true, CheckedBefore: &s.cutoff})
		s.Require().NoError(err, fx.name)
		s.Len(ids, 9, fx.name)
	}
}

func (s *StoreSelectSuite) TestScoreWindow() {
	below := 70
	lo, hi := 50, 90
	for _, fx := range s.fixtures {
		ids, err := fx.store.Select(context.Background(), models.ItemFilter{BelowScore: &below, MinScore: &lo})
		s.Require().NoError(err, fx.name)
		s.Equal([]string{"new-low"}, ids, fx.name)

		ids, err = fx.store.Select(context.Background(), models.ItemFilter{MinScore: &lo, MaxScore: &hi})
		s.Require().NoError(err, fx.name)
		s.Equal([]string{"new-high", "new-low", "new-mid"}, ids, fx.name)
	}
}

func (s *StoreSelectSuite) TestLimitAndIDs() {
	for _, fx := range s.fixtures {
		ids, err := fx.store.Select(context.Background(), models.ItemFilter{NeverChecked: true, Limit: 3})
		s.Require().NoError(err, fx.name)
		s.Equal([]string{"never-00", "never-01", "never-02"}, ids, fx.name)

		ids, err = fx.store.Select(context.Background(), models.ItemFilter{IDs: []string{"new-mid", "never-04", "absent"}})
		s.Require().NoError(err, fx.name)
		s.Equal([]string{"never-04", "new-mid"}, ids, fx.name)
	}
}

func TestStoreSelectSuite(t *testing.T) {
	suite.Run(t, new(StoreSelectSuite))
}

func TestGormStore_RecordCheck(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	factory := testutil.NewTestDataFactory(testDB.DB)
	store := NewGormStore(testDB.DB)

	item := factory.CreateExplainedItem()
	report := &models.QualityReport{
		ItemID:           item.ID,
		OverallScore:     64.5,
		Dimensions:       []models.DimensionScore{{Name: models.DimensionClarity, Score: 12, Max: 25}},
		NeedsImprovement: []string{models.SectionSummary},
		EvaluatedAt:      time.Now().UTC(),
	}

	err := store.RecordCheck(context.Background(), models.NewQualityCheckRecord(item, report, "job-1"))
	require.NoError(t, err)

	var records []models.QualityCheckRecord
	require.NoError(t, testDB.DB.Where("item_id = ?", item.ID).Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, 64.5, records[0].OverallScore)
	assert.Equal(t, models.JSONBStringArray{models.SectionSummary}, records[0].NeedsImprovement)
}
