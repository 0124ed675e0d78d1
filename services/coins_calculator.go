package services

import (
	"context"
	"errors"
	"fmt"

	"coinsync/models"
	"coinsync/utils"

	"gorm.io/gorm"
)

// RecommendedModuleCoins applies only while no global rule exists at all.
var RecommendedModuleCoins = map[string]int{
	"assign":      10,
	"book":        2,
	"choice":      2,
	"feedback":    5,
	"folder":      1,
	"forum":       5,
	"glossary":    5,
	"h5pactivity": 10,
	"lesson":      10,
	"lti":         5,
	"page":        2,
	"quiz":        15,
	"resource":    1,
	"scorm":       10,
	"survey":      5,
	"url":         1,
	"wiki":        5,
	"workshop":    15,
}

// RecommendedCourseCoins is the course completion value under the same condition.
const RecommendedCourseCoins = 50

// ruleSet is the cached view of one scope's rules.
type ruleSet struct {
	byModule     map[uint]int   // course scope: module id -> coins
	byModuleName map[string]int // global scope: module type -> coins
	course       int
	hasCourse    bool
	empty        bool
}

// CoinsCalculator resolves how many coins a completion is worth.
// Rule sets are cached per scope until PurgeCache is called.
type CoinsCalculator struct {
	DB    *gorm.DB
	Cache utils.Cache
}

func NewCoinsCalculator(db *gorm.DB, cache utils.Cache) *CoinsCalculator {
	return &CoinsCalculator{DB: db, Cache: cache}
}

// CoinsForModule returns the coins for completing moduleID in courseID.
func (c *CoinsCalculator) CoinsForModule(ctx context.Context, courseID, moduleID uint) (int, error) {
	rules, err := c.rules(ctx, courseID)
	if err != nil {
		return 0, err
	}
	if coins, ok := rules.byModule[moduleID]; ok {
		return coins, nil
	}

	var cm models.CourseModule
	err = c.DB.WithContext(ctx).Where("id = ?", moduleID).First(&cm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load course module %d: %w", moduleID, err)
	}

	global, err := c.rules(ctx, models.GlobalCourseID)
	if err != nil {
		return 0, err
	}
	if coins, ok := global.byModuleName[cm.ModuleName]; ok {
		return coins, nil
	}
	if global.empty {
		return RecommendedModuleCoins[cm.ModuleName], nil
	}
	return 0, nil
}

// CoinsForCourse returns the coins for completing courseID.
func (c *CoinsCalculator) CoinsForCourse(ctx context.Context, courseID uint) (int, error) {
	rules, err := c.rules(ctx, courseID)
	if err != nil {
		return 0, err
	}
	if rules.hasCourse {
		return rules.course, nil
	}
	global, err := c.rules(ctx, models.GlobalCourseID)
	if err != nil {
		return 0, err
	}
	if global.hasCourse {
		return global.course, nil
	}
	if global.empty {
		return RecommendedCourseCoins, nil
	}
	return 0, nil
}

// SetRule creates or replaces a rule and drops the cached scope.
func (c *CoinsCalculator) SetRule(ctx context.Context, rule models.CompletionRule) error {
	if rule.Coins < 0 {
		return &ValidationError{Code: CodeInvalidCoins, Message: "coins cannot be negative"}
	}
	err := c.DB.WithContext(ctx).
		Where("course_id = ? AND module_id = ? AND module_name = ?", rule.CourseID, rule.ModuleID, rule.ModuleName).
		Assign(map[string]any{"coins": rule.Coins}).
		FirstOrCreate(&rule).Error
	if err != nil {
		return fmt.Errorf("save completion rule: %w", err)
	}
	c.Cache.Delete(scopeKey(rule.CourseID))
	return nil
}

// PurgeCache forgets every cached rule set. Required after editing rules in
// the database directly.
func (c *CoinsCalculator) PurgeCache() {
	c.Cache.Purge()
}

func (c *CoinsCalculator) rules(ctx context.Context, courseID uint) (*ruleSet, error) {
	key := scopeKey(courseID)
	if cached, ok := c.Cache.Get(key); ok {
		if rs, ok := cached.(*ruleSet); ok {
			return rs, nil
		}
	}

	var rows []models.CompletionRule
	if err := c.DB.WithContext(ctx).Where("course_id = ?", courseID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load completion rules for course %d: %w", courseID, err)
	}

	rs := &ruleSet{
		byModule:     make(map[uint]int),
		byModuleName: make(map[string]int),
		empty:        len(rows) == 0,
	}
	for _, r := range rows {
		switch {
		case courseID != models.GlobalCourseID && r.ModuleID != 0:
			rs.byModule[r.ModuleID] = r.Coins
		case courseID == models.GlobalCourseID && r.ModuleName != "":
			rs.byModuleName[r.ModuleName] = r.Coins
		default:
			rs.course = r.Coins
			rs.hasCourse = true
		}
	}
	c.Cache.Set(key, rs, utils.NoExpiration)
	return rs, nil
}

func scopeKey(courseID uint) string {
	return fmt.Sprintf("rules:%d", courseID)
}
