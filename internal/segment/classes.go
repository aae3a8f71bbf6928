package segment

import (
	"fmt"
	"strconv"
	"strings"
)

// ClassNames lists the COCO classes in model output order; index 0 is the
// background.
var ClassNames = []string{
	"BG", "person", "bicycle", "car", "motorcycle", "airplane",
	"bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird",
	"cat", "dog", "horse", "sheep", "cow", "elephant", "bear",
	"zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard",
	"surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed",
	"dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster",
	"sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// cocoCategoryIDs are the original (sparse) COCO category ids in ClassNames
// order, skipping BG. TensorFlow detection graphs emit these minus one.
var cocoCategoryIDs = []int{
	1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 14, 15, 16, 17, 18, 19, 20,
	21, 22, 23, 24, 25, 27, 28, 31, 32, 33, 34, 35, 36, 37, 38, 39, 40,
	41, 42, 43, 44, 46, 47, 48, 49, 50, 51, 52, 53, 54, 55, 56, 57, 58,
	59, 60, 61, 62, 63, 64, 65, 67, 70, 72, 73, 74, 75, 76, 77, 78, 79,
	80, 81, 82, 84, 85, 86, 87, 88, 89, 90,
}

// ClassIDFromCategory maps a sparse COCO category id to a ClassNames index.
func ClassIDFromCategory(category int) (int, bool) {
	for i, c := range cocoCategoryIDs {
		if c == category {
			return i + 1, true
		}
	}
	return 0, false
}

// ResolveClasses turns class names or numeric ids into a set of class ids.
// Names are matched case-insensitively.
func ResolveClasses(targets []string) (map[int]bool, error) {
	out := make(map[int]bool, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if id, err := strconv.Atoi(t); err == nil {
			if id <= 0 || id >= len(ClassNames) {
				return nil, fmt.Errorf("class id %d out of range", id)
			}
			out[id] = true
			continue
		}
		found := false
		for id, name := range ClassNames {
			if id > 0 && strings.EqualFold(name, t) {
				out[id] = true
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown class %q", t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no target classes")
	}
	return out, nil
}
