package protocol

// Action ids.
const (
	ActionPaddle = 1
	ActionJump   = 2
)

// Paddle values carried by ActionPaddle.
const (
	PaddleNothing  = 0
	PaddleLeft     = 1
	PaddleRight    = 2
	PaddleForward  = 3
	PaddleBackward = 4
)

// Observation ids.
const (
	ObservationCamera   = 1
	ObservationReward   = 2
	ObservationCollided = 3
)

const (
	ActionPaddleName        = "paddle"
	ActionJumpName          = "jump"
	ObservationCameraName   = "Camera"
	ObservationRewardName   = "reward"
	ObservationCollidedName = "Collided"
)

type TensorSpec struct {
	Name  string   `json:"name"`
	Dtype DataType `json:"dtype"`
	Shape []int32  `json:"shape,omitempty"`
}

// ActionObservationSpecs is the schema a joined session steps against.
type ActionObservationSpecs struct {
	Actions      map[int]TensorSpec `json:"actions"`
	Observations map[int]TensorSpec `json:"observations"`
}

// DefaultSpecs describes the paddle/jump actions and the camera, reward and
// collided observations for a camera of the given size.
func DefaultSpecs(cameraWidth, cameraHeight int) ActionObservationSpecs {
	return ActionObservationSpecs{
		Actions: map[int]TensorSpec{
			ActionPaddle: {Name: ActionPaddleName, Dtype: DataTypeInt8, Shape: []int32{1}},
			ActionJump:   {Name: ActionJumpName, Dtype: DataTypeInt8, Shape: []int32{1}},
		},
		Observations: map[int]TensorSpec{
			ObservationCamera:   {Name: ObservationCameraName, Dtype: DataTypeUint8, Shape: []int32{4, int32(cameraWidth), int32(cameraHeight)}},
			ObservationReward:   {Name: ObservationRewardName, Dtype: DataTypeFloat},
			ObservationCollided: {Name: ObservationCollidedName, Dtype: DataTypeInt8},
		},
	}
}
