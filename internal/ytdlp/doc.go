// Package ytdlp wraps yt-dlp to pull audio from streaming URLs, either as a
// byte stream piped into ffmpeg or materialized into a scratch file.
//
// A time range is passed to yt-dlp as --download-sections so only the needed
// slice is fetched. Throughput is sampled from yt-dlp's progress lines; when
// it stays below the configured floor for more than the configured number of
// consecutive samples before the consumer has started, the process is killed
// and the stream fails with services.ErrResourceExhausted.
package ytdlp
