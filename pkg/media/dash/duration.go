/*
Copyright 2022-2025 The nagare media authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dash

import (
	"fmt"
	"time"
)

// Duration renders to the xs:duration representation used in MPD attributes,
// always spelling out hours, minutes and milliseconds, e.g. "PT0H0M12.000S".
type Duration time.Duration

func (d Duration) String() string {
	td := time.Duration(d)
	h := td / time.Hour
	td -= h * time.Hour
	m := td / time.Minute
	td -= m * time.Minute
	return fmt.Sprintf("PT%dH%dM%.3fS", h, m, td.Seconds())
}
