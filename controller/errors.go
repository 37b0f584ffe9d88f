package controller

import "fmt"

// RouteExhaustionError 路径耗尽错误
// 车辆采用既定路径策略但路网中不存在可追加的直行后继边
type RouteExhaustionError struct {
	VehicleID int32 // 车辆ID
	EdgeID    int32 // 路径最后一条边的ID
}

func (e *RouteExhaustionError) Error() string {
	return fmt.Sprintf("vehicle %d: route exhausted at edge %d (no straight continuation)", e.VehicleID, e.EdgeID)
}
