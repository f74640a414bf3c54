package diffusion

// Tacotron mel normalization bounds.
const (
	MelMin = -11.512925148010254
	MelMax = 2.3143386840820312
)

// MelChannels is the channel count of the diffusion output spectrogram.
const MelChannels = 100

// OutputLength returns the mel frame count produced for latentFrames
// autoregressive latents. Each latent covers four input-rate mel frames.
func OutputLength(latentFrames, inputRate, outputRate int) int {
	if inputRate < 1 {
		return 0
	}
	return latentFrames * 4 * outputRate / inputRate
}

// DenormalizeMel maps values from [-1, 1] back to log-mel scale in place.
func DenormalizeMel(mel []float32) {
	for i, v := range mel {
		mel[i] = float32((float64(v)+1)/2*(MelMax-MelMin) + MelMin)
	}
}

// TruncateFrames keeps the first frames columns of a [C, L] matrix.
func TruncateFrames(mel []float32, channels, length, frames int) []float32 {
	if frames >= length {
		return mel
	}

	out := make([]float32, 0, channels*frames)
	for c := range channels {
		row := mel[c*length : (c+1)*length]
		out = append(out, row[:frames]...)
	}
	return out
}
