package services

import (
	"testing"

	"coinsync/models"
	"coinsync/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalculator(t *testing.T) (*CoinsCalculator, func(models.CourseModule)) {
	t.Helper()
	db := newTestDB(t)
	calc := NewCoinsCalculator(db, utils.NewMemoryCache(utils.NoExpiration))
	addModule := func(cm models.CourseModule) {
		require.NoError(t, db.Create(&cm).Error)
	}
	return calc, addModule
}

func TestCoinsForModuleFallsBackToRecommended(t *testing.T) {
	calc, addModule := newTestCalculator(t)
	addModule(models.CourseModule{ID: 7, CourseID: 3, ModuleName: "quiz"})
	addModule(models.CourseModule{ID: 8, CourseID: 3, ModuleName: "something-new"})

	coins, err := calc.CoinsForModule(t.Context(), 3, 7)
	require.NoError(t, err)
	assert.Equal(t, RecommendedModuleCoins["quiz"], coins)

	coins, err = calc.CoinsForModule(t.Context(), 3, 8)
	require.NoError(t, err)
	assert.Zero(t, coins)

	coins, err = calc.CoinsForModule(t.Context(), 3, 999)
	require.NoError(t, err)
	assert.Zero(t, coins, "unknown modules are worth nothing")

	coins, err = calc.CoinsForCourse(t.Context(), 3)
	require.NoError(t, err)
	assert.Equal(t, RecommendedCourseCoins, coins)
}

func TestCoinsPrecedence(t *testing.T) {
	ctx := t.Context()
	calc, addModule := newTestCalculator(t)
	addModule(models.CourseModule{ID: 7, CourseID: 3, ModuleName: "quiz"})
	addModule(models.CourseModule{ID: 9, CourseID: 3, ModuleName: "page"})

	require.NoError(t, calc.SetRule(ctx, models.CompletionRule{CourseID: models.GlobalCourseID, ModuleName: "quiz", Coins: 20}))
	require.NoError(t, calc.SetRule(ctx, models.CompletionRule{CourseID: 3, ModuleID: 7, Coins: 40}))
	require.NoError(t, calc.SetRule(ctx, models.CompletionRule{CourseID: 3, Coins: 100}))

	coins, err := calc.CoinsForModule(ctx, 3, 7)
	require.NoError(t, err)
	assert.Equal(t, 40, coins, "per-module rule wins")

	coins, err = calc.CoinsForModule(ctx, 4, 7)
	require.NoError(t, err)
	assert.Equal(t, 20, coins, "global module type rule applies elsewhere")

	coins, err = calc.CoinsForModule(ctx, 3, 9)
	require.NoError(t, err)
	assert.Zero(t, coins, "any global rule disables the recommended values")

	coins, err = calc.CoinsForCourse(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 100, coins)

	coins, err = calc.CoinsForCourse(ctx, 4)
	require.NoError(t, err)
	assert.Zero(t, coins)
}

func TestGlobalCourseRuleDisablesRecommendedModules(t *testing.T) {
	ctx := t.Context()
	calc, addModule := newTestCalculator(t)
	addModule(models.CourseModule{ID: 7, CourseID: 3, ModuleName: "quiz"})

	require.NoError(t, calc.SetRule(ctx, models.CompletionRule{CourseID: models.GlobalCourseID, Coins: 30}))

	coins, err := calc.CoinsForModule(ctx, 3, 7)
	require.NoError(t, err)
	assert.Zero(t, coins)

	coins, err = calc.CoinsForCourse(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 30, coins)
}

func TestCalculatorCacheStaysUntilPurged(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)
	calc := NewCoinsCalculator(db, utils.NewMemoryCache(utils.NoExpiration))

	coins, err := calc.CoinsForCourse(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, RecommendedCourseCoins, coins)

	// Direct edits are invisible until the cache is purged.
	require.NoError(t, db.Create(&models.CompletionRule{CourseID: 3, Coins: 5}).Error)
	coins, err = calc.CoinsForCourse(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, RecommendedCourseCoins, coins)

	calc.PurgeCache()
	coins, err = calc.CoinsForCourse(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, coins)

	// SetRule drops its own scope.
	require.NoError(t, calc.SetRule(ctx, models.CompletionRule{CourseID: 3, Coins: 0}))
	coins, err = calc.CoinsForCourse(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, coins)

	var n int64
	require.NoError(t, db.Model(&models.CompletionRule{}).Count(&n).Error)
	assert.Equal(t, int64(1), n, "SetRule replaces instead of duplicating")
}

func TestSetRuleRejectsNegativeCoins(t *testing.T) {
	calc, _ := newTestCalculator(t)
	err := calc.SetRule(t.Context(), models.CompletionRule{CourseID: 3, Coins: -1})
	assert.True(t, IsValidationError(err))
}
