// models/challenge.go
package models

import (
	"gorm.io/datatypes"
)

// World is a themed collection of challenges (reference data).
type World struct {
	ID    int    `gorm:"primaryKey;column:world_id;autoIncrement:false" json:"world_id"`
	Level int    `gorm:"column:world_level;not null;index" json:"world_level"`
	Name  string `gorm:"column:world_name;not null" json:"world_name"`
	Slug  string `gorm:"uniqueIndex" json:"slug"`
}

func (World) TableName() string { return "worlds" }

// Challenge is a question template. CorrectAnswerTemplate may hold several
// ordered steps joined by StepSeparator.
type Challenge struct {
	ID                    int    `gorm:"primaryKey;column:challenge_id;autoIncrement:false" json:"challenge_id"`
	WorldID               int    `gorm:"index;not null" json:"world_id"`
	QuestionTemplate      string `gorm:"type:text;not null" json:"question_template"`
	CorrectAnswerTemplate string `gorm:"type:text" json:"correct_answer_template,omitempty"`
	IsMultiStep           bool   `gorm:"default:false" json:"is_multi_step"`
	Points                int    `gorm:"default:10" json:"points"`
	Difficulty            string `gorm:"type:varchar(16)" json:"difficulty"`
	TimerSeconds          int    `gorm:"default:30" json:"timer_seconds"`
	StartStateID          int    `gorm:"index" json:"start_state_id"`
}

func (Challenge) TableName() string { return "challenges" }

// StepSeparator joins the steps of a multi-step answer template.
const StepSeparator = "&&"

// GitState is a node of a challenge's simulated repository graph.
type GitState struct {
	ID             int    `gorm:"primaryKey;column:state_id;autoIncrement:false" json:"state_id"`
	StatusTemplate string `gorm:"type:text" json:"status_template"`
}

func (GitState) TableName() string { return "git_states" }

// ValidTransition is an edge of the state graph, gated by a command.
type ValidTransition struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	ChallengeID    int    `gorm:"index:idx_transition_from,priority:1;not null" json:"challenge_id"`
	CurrentStateID int    `gorm:"index:idx_transition_from,priority:2;not null" json:"current_state_id"`
	NextStateID    int    `gorm:"not null" json:"next_state_id"`
	AnswerPattern  string `gorm:"type:text" json:"answer_pattern"`
	CommandOutput  string `gorm:"type:text" json:"command_output"`
	StepOrder      int    `gorm:"default:1" json:"step_order"`
	IsFinalStep    bool   `gorm:"default:false" json:"is_final_step"`
}

func (ValidTransition) TableName() string { return "valid_transitions" }

// DynamicVariable is a named pool of substitutable values.
type DynamicVariable struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	VariableName string                      `gorm:"uniqueIndex;not null" json:"variable_name"`
	ValuePool    datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"value_pool"`
}

func (DynamicVariable) TableName() string { return "dynamic_variables" }
