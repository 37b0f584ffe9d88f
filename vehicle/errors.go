package vehicle

import "fmt"

// UnknownVehicleError 未知车辆错误
// 说明：按ID访问注册表中不存在的车辆时返回
type UnknownVehicleError struct {
	ID int32 // 车辆ID
}

// Error 实现error接口
func (e *UnknownVehicleError) Error() string {
	return fmt.Sprintf("unknown vehicle %d", e.ID)
}
