package models

// GlobalCourseID is the scope id for rules that apply to every course.
const GlobalCourseID uint = 0

// CompletionRule stores a coin value for a completion.
//
//	CourseID > 0, ModuleID > 0   per-module rule
//	CourseID > 0, ModuleID == 0  course completion rule for that course
//	CourseID == 0, ModuleName    global per-module-type rule
//	CourseID == 0, no ModuleName global course completion rule
type CompletionRule struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	CourseID   uint   `gorm:"not null;uniqueIndex:ux_completion_rule,priority:1" json:"course_id"`
	ModuleID   uint   `gorm:"not null;default:0;uniqueIndex:ux_completion_rule,priority:2" json:"module_id"`
	ModuleName string `gorm:"type:varchar(50);not null;default:'';uniqueIndex:ux_completion_rule,priority:3" json:"module_name"`
	Coins      int    `gorm:"not null" json:"coins"`
}
