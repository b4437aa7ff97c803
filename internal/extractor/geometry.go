package extractor

// BBoxArea returns the area of an [x1, y1, x2, y2] box, 0 for invalid boxes.
func BBoxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := BBoxArea(bbox1) + BBoxArea(bbox2) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// PrimaryFace picks the face attendance is taken for: the largest box,
// then the highest detection score, then the lowest index.
func PrimaryFace(faces []FaceDetection) FaceDetection {
	if len(faces) == 0 {
		return FaceDetection{}
	}
	best := faces[0]
	for _, f := range faces[1:] {
		fa, ba := BBoxArea(f.BBox), BBoxArea(best.BBox)
		switch {
		case fa > ba:
			best = f
		case fa == ba && f.DetScore > best.DetScore:
			best = f
		}
	}
	return best
}

// DistinctFaces drops detections overlapping an earlier, larger one by more
// than iouThreshold. Some detectors report the same face twice.
func DistinctFaces(faces []FaceDetection, iouThreshold float64) []FaceDetection {
	var out []FaceDetection
	for _, f := range faces {
		dup := false
		for i, kept := range out {
			if ComputeIoU(f.BBox, kept.BBox) > iouThreshold {
				dup = true
				if BBoxArea(f.BBox) > BBoxArea(kept.BBox) {
					out[i] = f
				}
				break
			}
		}
		if !dup {
			out = append(out, f)
		}
	}
	return out
}
