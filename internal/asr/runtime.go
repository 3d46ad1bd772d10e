package asr

const (
	DeviceAuto = "auto"
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"
)

// Runtime is where models run and at what precision.
type Runtime struct {
	Device        string
	ComputeType   string
	CUDAAvailable bool
}

// SelectRuntime resolves "auto" against accelerator availability. Half
// precision is the default on cuda, int8 on cpu.
func SelectRuntime(cudaAvailable bool, device, computeType string) Runtime {
	switch device {
	case DeviceCUDA, DeviceCPU:
	default:
		device = DeviceCPU
		if cudaAvailable {
			device = DeviceCUDA
		}
	}
	if computeType == "" {
		computeType = "int8"
		if device == DeviceCUDA {
			computeType = "float16"
		}
	}
	return Runtime{Device: device, ComputeType: computeType, CUDAAvailable: cudaAvailable}
}
