package chain_manager

import (
	"context"
	"time"
)

// Planner error codes, numbered as MoveIt's MoveItErrorCodes.
const (
	PlanSuccess                = 1
	PlanFailure                = 99999
	PlanPlanningFailed         = -1
	PlanInvalidMotionPlan      = -2
	PlanTimedOut               = -6
	PlanInvalidGroupName       = -15
	PlanInvalidGoalConstraints = -16
)

// planErrorString names a planner error code for logs.
func planErrorString(code int) string {
	switch code {
	case PlanSuccess:
		return "success"
	case PlanFailure:
		return "failure"
	case PlanPlanningFailed:
		return "planning failed"
	case PlanInvalidMotionPlan:
		return "invalid motion plan"
	case PlanTimedOut:
		return "timed out"
	case PlanInvalidGroupName:
		return "invalid group name"
	case PlanInvalidGoalConstraints:
		return "invalid goal constraints"
	default:
		return "unknown planner error"
	}
}

// JointConstraint pins one joint to a position within a tolerance band.
type JointConstraint struct {
	JointName      string  `json:"joint_name"`
	Position       float64 `json:"position"`
	ToleranceAbove float64 `json:"tolerance_above"`
	ToleranceBelow float64 `json:"tolerance_below"`
	Weight         float64 `json:"weight"`
}

// PlanRequest asks the external planner for a trajectory of one planning group.
type PlanRequest struct {
	RequestID                string            `json:"request_id"`
	GroupName                string            `json:"group_name"`
	NumPlanningAttempts      int               `json:"num_planning_attempts"`
	AllowedPlanningTime      float64           `json:"allowed_planning_time"`
	GoalConstraints          []JointConstraint `json:"goal_constraints"`
	MaxVelocityScalingFactor float64           `json:"max_velocity_scaling_factor"`
	StartStateIsDiff         bool              `json:"start_state_is_diff"`
	PlanningSceneIsDiff      bool              `json:"planning_scene_is_diff"`
	PlanOnly                 bool              `json:"plan_only"`
}

// PlanResult is the planner's answer. Trajectory is meaningful only when ErrorCode is
// PlanSuccess.
type PlanResult struct {
	RequestID  string          `json:"request_id"`
	ErrorCode  int             `json:"error_code"`
	Trajectory JointTrajectory `json:"planned_trajectory"`
}

// Planner is the external motion planning service. Plan must honor ctx's deadline.
type Planner interface {
	Ready(ctx context.Context) error
	Plan(ctx context.Context, req PlanRequest) (PlanResult, error)
}

type planParams struct {
	velocityFactor      float64
	jointTolerance      float64
	allowedPlanningTime time.Duration
}

// newPlanRequest builds a plan-only, diff-relative request that constrains every
// joint of the chain to the target point.
func newPlanRequest(chain *ChainController, point TrajectoryPoint, params planParams) PlanRequest {
	constraints := make([]JointConstraint, len(chain.jointNames))
	for i, joint := range chain.jointNames {
		constraints[i] = JointConstraint{
			JointName:      joint,
			Position:       point.Positions[i],
			ToleranceAbove: params.jointTolerance,
			ToleranceBelow: params.jointTolerance,
			Weight:         1.0,
		}
	}

	return PlanRequest{
		GroupName:                chain.planningGroup,
		NumPlanningAttempts:      1,
		AllowedPlanningTime:      params.allowedPlanningTime.Seconds(),
		GoalConstraints:          constraints,
		MaxVelocityScalingFactor: params.velocityFactor,
		StartStateIsDiff:         true,
		PlanningSceneIsDiff:      true,
		PlanOnly:                 true,
	}
}
