package fps

import "fmt"

// CommandID is the 10-bit command code transported in every frame's
// arbitration id.
type CommandID uint16

const (
	GetID                        CommandID = 1
	GetFirmwareVersion           CommandID = 2
	GetStatus                    CommandID = 3
	SendNewTrajectory            CommandID = 10
	SendTrajectoryData           CommandID = 11
	TrajectoryDataEnd            CommandID = 12
	SendTrajectoryAbort          CommandID = 13
	StartTrajectory              CommandID = 14
	StopTrajectory               CommandID = 15
	CollisionDetected            CommandID = 18
	GoToDatums                   CommandID = 20
	GoToDatumAlpha               CommandID = 21
	GoToDatumBeta                CommandID = 22
	StartDatumCalibration        CommandID = 23
	StartDatumCalibrationAlpha   CommandID = 24
	StartDatumCalibrationBeta    CommandID = 25
	StartMotorCalibrationAlpha   CommandID = 26
	StartMotorCalibrationBeta    CommandID = 27
	GoToAbsolutePosition         CommandID = 30
	GoToRelativePosition         CommandID = 31
	GetActualPosition            CommandID = 32
	SetActualPosition            CommandID = 33
	GetOffsets                   CommandID = 34
	SetOffsets                   CommandID = 35
	SetSpeed                     CommandID = 40
	SetCurrent                   CommandID = 41
	GetHallCalibError            CommandID = 45
	StartCoggingCalibration      CommandID = 47
	StartCoggingCalibrationAlpha CommandID = 48
	StartCoggingCalibrationBeta  CommandID = 49
	SaveInternalCalibration      CommandID = 53
	GetCurrent                   CommandID = 56
	GetAlphaHallCalib            CommandID = 104
	GetBetaHallCalib             CommandID = 105
	SetIncreaseCollisionMargin   CommandID = 111
	SetHoldingCurrent            CommandID = 112
	GetHoldingCurrent            CommandID = 113
	HallOn                       CommandID = 116
	HallOff                      CommandID = 117
	AlphaClosedLoopCollisionDetection          CommandID = 118
	AlphaClosedLoopWithoutCollisionDetection   CommandID = 119
	AlphaOpenLoopCollisionDetection            CommandID = 120
	AlphaOpenLoopWithoutCollisionDetection     CommandID = 121
	BetaClosedLoopCollisionDetection           CommandID = 122
	BetaClosedLoopWithoutCollisionDetection    CommandID = 123
	BetaOpenLoopCollisionDetection             CommandID = 124
	BetaOpenLoopWithoutCollisionDetection      CommandID = 125
	SwitchLEDOn                  CommandID = 126
	SwitchLEDOff                 CommandID = 127
	SwitchOnPreciseMoveAlpha     CommandID = 128
	SwitchOffPreciseMoveAlpha    CommandID = 129
	SwitchOnPreciseMoveBeta      CommandID = 130
	SwitchOffPreciseMoveBeta     CommandID = 131
	GetRawTemperature            CommandID = 132
	GetNumberTrajectories        CommandID = 139
	SetNumberTrajectories        CommandID = 140
	StartFirmwareUpgrade         CommandID = 200
	SendFirmwareData             CommandID = 201
)

// CommandDescriptor is the static, build-time description of one command
// type: its capability flags and default timeout. Payload encoding for the
// few commands that need structured payloads lives in payloads.go and
// trajectory.go rather than as a function pointer here,
// since the set of distinct payload shapes is small and fixed.
type CommandDescriptor struct {
	ID            CommandID
	Name          string
	Broadcastable bool
	Safe          bool
	MoveCommand   bool
	Bootloader    bool
	DefaultTimeout float64 // seconds; 0 means "finish immediately", <0 means "no timeout"
}

var commandRegistry = map[CommandID]CommandDescriptor{
	GetID:                      {GetID, "GET_ID", true, true, false, false, 2},
	GetFirmwareVersion:         {GetFirmwareVersion, "GET_FIRMWARE_VERSION", true, true, false, false, 2},
	GetStatus:                  {GetStatus, "GET_STATUS", true, true, false, false, 2},
	SendNewTrajectory:          {SendNewTrajectory, "SEND_NEW_TRAJECTORY", true, false, false, false, 5},
	SendTrajectoryData:         {SendTrajectoryData, "SEND_TRAJECTORY_DATA", false, false, false, false, 5},
	TrajectoryDataEnd:          {TrajectoryDataEnd, "TRAJECTORY_DATA_END", true, false, false, false, 5},
	SendTrajectoryAbort:        {SendTrajectoryAbort, "SEND_TRAJECTORY_ABORT", true, true, false, false, 2},
	StartTrajectory:            {StartTrajectory, "START_TRAJECTORY", true, false, true, false, 2},
	StopTrajectory:             {StopTrajectory, "STOP_TRAJECTORY", true, true, false, false, 2},
	CollisionDetected:          {CollisionDetected, "COLLISION_DETECTED", true, true, false, false, -1},
	GoToDatums:                 {GoToDatums, "GO_TO_DATUMS", true, false, true, false, 30},
	GoToDatumAlpha:             {GoToDatumAlpha, "GO_TO_DATUM_ALPHA", false, false, true, false, 30},
	GoToDatumBeta:              {GoToDatumBeta, "GO_TO_DATUM_BETA", false, false, true, false, 30},
	StartDatumCalibration:      {StartDatumCalibration, "START_DATUM_CALIBRATION", false, false, true, false, 30},
	StartDatumCalibrationAlpha: {StartDatumCalibrationAlpha, "START_DATUM_CALIBRATION_ALPHA", false, false, true, false, 30},
	StartDatumCalibrationBeta:  {StartDatumCalibrationBeta, "START_DATUM_CALIBRATION_BETA", false, false, true, false, 30},
	StartMotorCalibrationAlpha: {StartMotorCalibrationAlpha, "START_MOTOR_CALIBRATION_ALPHA", false, false, true, false, 30},
	StartMotorCalibrationBeta:  {StartMotorCalibrationBeta, "START_MOTOR_CALIBRATION_BETA", false, false, true, false, 30},
	GoToAbsolutePosition:       {GoToAbsolutePosition, "GO_TO_ABSOLUTE_POSITION", false, false, true, false, 10},
	GoToRelativePosition:       {GoToRelativePosition, "GO_TO_RELATIVE_POSITION", false, false, true, false, 10},
	GetActualPosition:          {GetActualPosition, "GET_ACTUAL_POSITION", true, true, false, false, 2},
	SetActualPosition:          {SetActualPosition, "SET_ACTUAL_POSITION", false, true, false, false, 2},
	GetOffsets:                 {GetOffsets, "GET_OFFSETS", true, true, false, false, 2},
	SetOffsets:                 {SetOffsets, "SET_OFFSETS", false, true, false, false, 2},
	SetSpeed:                   {SetSpeed, "SET_SPEED", true, true, false, false, 2},
	SetCurrent:                 {SetCurrent, "SET_CURRENT", true, true, false, false, 2},
	GetHallCalibError:          {GetHallCalibError, "GET_HALL_CALIB_ERROR", true, true, false, false, 2},
	StartCoggingCalibration:    {StartCoggingCalibration, "START_COGGING_CALIBRATION", false, false, true, false, 60},
	StartCoggingCalibrationAlpha: {StartCoggingCalibrationAlpha, "START_COGGING_CALIBRATION_ALPHA", false, false, true, false, 60},
	StartCoggingCalibrationBeta:  {StartCoggingCalibrationBeta, "START_COGGING_CALIBRATION_BETA", false, false, true, false, 60},
	SaveInternalCalibration:    {SaveInternalCalibration, "SAVE_INTERNAL_CALIBRATION", true, true, false, false, 5},
	GetCurrent:                 {GetCurrent, "GET_CURRENT", true, true, false, false, 2},
	GetAlphaHallCalib:          {GetAlphaHallCalib, "GET_ALPHA_HALL_CALIB", false, true, false, false, 2},
	GetBetaHallCalib:           {GetBetaHallCalib, "GET_BETA_HALL_CALIB", false, true, false, false, 2},
	SetIncreaseCollisionMargin: {SetIncreaseCollisionMargin, "SET_INCREASE_COLLISION_MARGIN", true, true, false, false, 2},
	SetHoldingCurrent:          {SetHoldingCurrent, "SET_HOLDING_CURRENT", true, true, false, false, 2},
	GetHoldingCurrent:          {GetHoldingCurrent, "GET_HOLDING_CURRENT", true, true, false, false, 2},
	HallOn:                     {HallOn, "HALL_ON", true, true, false, false, 2},
	HallOff:                    {HallOff, "HALL_OFF", true, true, false, false, 2},
	AlphaClosedLoopCollisionDetection:        {AlphaClosedLoopCollisionDetection, "ALPHA_CLOSED_LOOP_COLLISION_DETECTION", false, true, false, false, 2},
	AlphaClosedLoopWithoutCollisionDetection: {AlphaClosedLoopWithoutCollisionDetection, "ALPHA_CLOSED_LOOP_WITHOUT_COLLISION_DETECTION", false, true, false, false, 2},
	AlphaOpenLoopCollisionDetection:          {AlphaOpenLoopCollisionDetection, "ALPHA_OPEN_LOOP_COLLISION_DETECTION", false, true, false, false, 2},
	AlphaOpenLoopWithoutCollisionDetection:   {AlphaOpenLoopWithoutCollisionDetection, "ALPHA_OPEN_LOOP_WITHOUT_COLLISION_DETECTION", false, true, false, false, 2},
	BetaClosedLoopCollisionDetection:         {BetaClosedLoopCollisionDetection, "BETA_CLOSED_LOOP_COLLISION_DETECTION", false, true, false, false, 2},
	BetaClosedLoopWithoutCollisionDetection:  {BetaClosedLoopWithoutCollisionDetection, "BETA_CLOSED_LOOP_WITHOUT_COLLISION_DETECTION", false, true, false, false, 2},
	BetaOpenLoopCollisionDetection:           {BetaOpenLoopCollisionDetection, "BETA_OPEN_LOOP_COLLISION_DETECTION", false, true, false, false, 2},
	BetaOpenLoopWithoutCollisionDetection:    {BetaOpenLoopWithoutCollisionDetection, "BETA_OPEN_LOOP_WITHOUT_COLLISION_DETECTION", false, true, false, false, 2},
	SwitchLEDOn:                {SwitchLEDOn, "SWITCH_LED_ON", true, true, false, false, 2},
	SwitchLEDOff:               {SwitchLEDOff, "SWITCH_LED_OFF", true, true, false, false, 2},
	SwitchOnPreciseMoveAlpha:   {SwitchOnPreciseMoveAlpha, "SWITCH_ON_PRECISE_MOVE_ALPHA", true, true, false, false, 2},
	SwitchOffPreciseMoveAlpha:  {SwitchOffPreciseMoveAlpha, "SWITCH_OFF_PRECISE_MOVE_ALPHA", true, true, false, false, 2},
	SwitchOnPreciseMoveBeta:    {SwitchOnPreciseMoveBeta, "SWITCH_ON_PRECISE_MOVE_BETA", true, true, false, false, 2},
	SwitchOffPreciseMoveBeta:   {SwitchOffPreciseMoveBeta, "SWITCH_OFF_PRECISE_MOVE_BETA", true, true, false, false, 2},
	GetRawTemperature:          {GetRawTemperature, "GET_RAW_TEMPERATURE", true, true, false, false, 2},
	GetNumberTrajectories:      {GetNumberTrajectories, "GET_NUMBER_TRAJECTORIES", true, true, false, false, 2},
	SetNumberTrajectories:      {SetNumberTrajectories, "SET_NUMBER_TRAJECTORIES", true, true, false, false, 2},
	StartFirmwareUpgrade:       {StartFirmwareUpgrade, "START_FIRMWARE_UPGRADE", false, false, false, true, 10},
	SendFirmwareData:           {SendFirmwareData, "SEND_FIRMWARE_DATA", false, false, false, true, 10},
}

// LookupCommand returns the descriptor for id, or ErrUnknownCommand if the
// code was never registered.
func LookupCommand(id CommandID) (CommandDescriptor, error) {
	desc, ok := commandRegistry[id]
	if !ok {
		return CommandDescriptor{}, fmt.Errorf("%w: %d", ErrUnknownCommand, id)
	}
	return desc, nil
}
