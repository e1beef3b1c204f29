// Package samples converts uploaded audio into the AIFF format the samplers
// accept, by shelling out to ffmpeg.
package samples
